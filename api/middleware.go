package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per request. Server errors log at error
// level; everything else, client errors included, at info.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := logger.Info()
				if status >= http.StatusInternalServerError {
					event = logger.Error()
				}
				event.
					Str("request-id", middleware.GetReqID(r.Context())).
					Dur("latency", time.Since(start)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("size", ww.BytesWritten()).
					Str("user-agent", r.UserAgent()).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

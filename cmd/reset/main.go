// Command reset empties the stored budget state. The version keeps moving
// forward so clients holding an old snapshot get a conflict instead of
// silently overwriting the reset. The ledger and settlement runs are kept.
//
//	./reset -db=./data/budget.db
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	defer store.Close()

	svc := budget.NewService(store, log.Logger)
	state, err := svc.Reset(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("reset failed")
	}

	log.Info().Str("db", cfg.Database.Path).Int64("version", state.Version).Msg("reset complete")
}

package budget

import (
	"github.com/warp/budget-engine/schedule"
)

// AgendaItem is one obligation as seen from one month.
type AgendaItem struct {
	Kind       schedule.Kind      `json:"kind"`
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	Amount     schedule.Money     `json:"amount"`
	Frequency  schedule.Frequency `json:"frequency"`
	Occurrence string             `json:"occurrence"`
	Settled    bool               `json:"settled"`
	Due        bool               `json:"due"`
	Next       string             `json:"next,omitempty"`
}

// Agenda lists what the obligations produce in a month.
type Agenda struct {
	Month              string         `json:"month"`
	Today              string         `json:"today"`
	Items              []AgendaItem   `json:"items"`
	PaymentsTotal      schedule.Money `json:"paymentsTotal"`
	IncomesTotal       schedule.Money `json:"incomesTotal"`
	OutstandingPayment schedule.Money `json:"outstandingPayments"`
	OutstandingIncome  schedule.Money `json:"outstandingIncomes"`
}

// BuildAgenda computes, for each obligation with an occurrence in month,
// whether it is settled and whether it is due as of today (overdue or due
// today). Next is the earliest unsettled occurrence on or after today.
func BuildAgenda(state State, month schedule.Month, today schedule.Date, scanner schedule.Scanner) Agenda {
	agenda := Agenda{
		Month:              month.String(),
		Today:              today.ISO(),
		Items:              []AgendaItem{},
		PaymentsTotal:      schedule.Zero,
		IncomesTotal:       schedule.Zero,
		OutstandingPayment: schedule.Zero,
		OutstandingIncome:  schedule.Zero,
	}

	add := func(o schedule.Obligation) {
		r := o.Recurrence()
		occurrence, ok := schedule.OccurrenceIn(r, month)
		if !ok {
			return
		}
		item := AgendaItem{
			Kind:       o.Kind(),
			ID:         o.ObligationID(),
			Name:       o.Label(),
			Amount:     o.Value(),
			Frequency:  r.Frequency,
			Occurrence: occurrence.ISO(),
			Settled:    schedule.IsSettled(o, occurrence),
		}
		item.Due = !item.Settled && schedule.IsDue(occurrence, today, true)
		if next, ok := scanner.NextFrom(o, today); ok {
			item.Next = next.ISO()
		}
		agenda.Items = append(agenda.Items, item)

		if o.Kind() == schedule.KindPayment {
			agenda.PaymentsTotal = agenda.PaymentsTotal.Add(o.Value())
			if !item.Settled {
				agenda.OutstandingPayment = agenda.OutstandingPayment.Add(o.Value())
			}
		} else {
			agenda.IncomesTotal = agenda.IncomesTotal.Add(o.Value())
			if !item.Settled {
				agenda.OutstandingIncome = agenda.OutstandingIncome.Add(o.Value())
			}
		}
	}

	for _, p := range state.Payments {
		add(p)
	}
	for _, i := range state.Incomes {
		add(i)
	}
	return agenda
}

// Package forecast projects future spending from a least-squares trend line
// over past expenses.
package forecast

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"budget/internal/core"
)

// Horizon is the number of monthly predictions produced.
const Horizon = 3

// Observation is one historical (date, amount) point. A zero Date is
// replaced by the processing date before fitting.
type Observation struct {
	Date   core.Date
	Amount float64
}

type Prediction struct {
	Date   core.Date `json:"date"`
	Amount float64   `json:"prediction"`
}

// Model is a fitted line amount = Intercept + Slope*ordinal(date).
type Model struct {
	Intercept float64
	Slope     float64
}

// Predict evaluates the model on a calendar day.
func (m Model) Predict(d core.Date) float64 {
	return m.Intercept + m.Slope*float64(d.Ordinal())
}

// Fit runs ordinary least squares of amount on the ordinal day number.
// Undated observations are placed on now; this pulls the line towards the
// present when many rows lack a date. When every observation falls on the
// same day the line is flat at the mean amount.
func Fit(history []Observation, now time.Time) (Model, error) {
	today := core.DateOf(now)

	type point struct {
		ord    int64
		amount float64
	}

	xs := make([]float64, 0, len(history))
	ys := make([]float64, 0, len(history))
	distinct := make(map[point]struct{})
	days := make(map[int64]struct{})
	for _, o := range history {
		d := o.Date
		if d.IsEmpty() {
			d = today
		}
		ord := d.Ordinal()
		distinct[point{ord, o.Amount}] = struct{}{}
		days[ord] = struct{}{}
		xs = append(xs, float64(ord))
		ys = append(ys, o.Amount)
	}
	if len(distinct) < 2 {
		return Model{}, fmt.Errorf("%w: need at least 2 distinct (date, amount) observations, got %d", core.ErrInsufficientData, len(distinct))
	}

	if len(days) == 1 {
		return Model{Intercept: stat.Mean(ys, nil)}, nil
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return Model{Intercept: alpha, Slope: beta}, nil
}

// FutureDates returns the first day of each of the Horizon months that
// follow ref's month.
func FutureDates(ref time.Time) []core.Date {
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	dates := make([]core.Date, Horizon)
	for i := range dates {
		dates[i] = core.DateOf(first.AddDate(0, i+1, 0))
	}
	return dates
}

// Forecast fits history and predicts the amounts for FutureDates(ref), in
// date order.
func Forecast(history []Observation, ref, now time.Time) ([]Prediction, error) {
	model, err := Fit(history, now)
	if err != nil {
		return nil, err
	}

	dates := FutureDates(ref)
	out := make([]Prediction, len(dates))
	for i, d := range dates {
		out[i] = Prediction{Date: d, Amount: model.Predict(d)}
	}
	return out, nil
}

// FromExpenses converts ledger rows into forecast observations.
func FromExpenses(expenses []core.Expense) []Observation {
	obs := make([]Observation, len(expenses))
	for i, e := range expenses {
		obs[i] = Observation{Date: e.Date, Amount: e.Amount}
	}
	return obs
}

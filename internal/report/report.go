// Package report aggregates ledger rows into per-category and per-month totals.
package report

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// CategoryTotal is the summed amount of one category.
type CategoryTotal struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

// CategoryTotals groups categorised expenses by category name and sums their
// amounts. Rows whose category id resolves to no name are skipped. The result
// is ordered by name. It returns core.ErrNoData when no categorised expense
// exists.
func CategoryTotals(expenses []core.Expense) ([]CategoryTotal, error) {
	sums := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		if !e.HasCategory() || e.CategoryName == "" {
			continue
		}
		sums[e.CategoryName] = sums[e.CategoryName].Add(decimal.NewFromFloat(e.Amount))
	}
	if len(sums) == 0 {
		return nil, core.ErrNoData
	}

	totals := make([]CategoryTotal, 0, len(sums))
	for name, sum := range sums {
		totals = append(totals, CategoryTotal{Name: name, Total: sum.InexactFloat64()})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Name < totals[j].Name })
	return totals, nil
}

// MonthlySummary is a month by category matrix. Every observed month has a
// value for every observed category; missing pairs are zero.
type MonthlySummary struct {
	Months      []string
	CategoryIDs []int64
	totals      map[int64]map[string]float64
}

// Total returns the amount for a category in a YYYY-MM month.
func (s MonthlySummary) Total(categoryID int64, month string) float64 {
	return s.totals[categoryID][month]
}

// IsEmpty reports whether no expense contributed to the summary.
func (s MonthlySummary) IsEmpty() bool {
	return len(s.Months) == 0
}

// MarshalJSON encodes the summary as {"<category_id>": {"YYYY-MM": total}}.
func (s MonthlySummary) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]float64, len(s.CategoryIDs))
	for _, id := range s.CategoryIDs {
		col := make(map[string]float64, len(s.Months))
		for _, m := range s.Months {
			col[m] = s.Total(id, m)
		}
		out[strconv.FormatInt(id, 10)] = col
	}
	return json.Marshal(out)
}

// MonthlyCategoryTotals sums expenses per (month, category id). Expenses
// without a date or category are skipped. An empty input yields an empty
// summary, not an error.
func MonthlyCategoryTotals(expenses []core.Expense) MonthlySummary {
	sums := make(map[int64]map[string]decimal.Decimal)
	months := make(map[string]struct{})

	for _, e := range expenses {
		if !e.HasCategory() || e.Date.IsEmpty() {
			continue
		}
		month := e.Date.MonthKey()
		months[month] = struct{}{}
		if sums[e.CategoryID] == nil {
			sums[e.CategoryID] = make(map[string]decimal.Decimal)
		}
		sums[e.CategoryID][month] = sums[e.CategoryID][month].Add(decimal.NewFromFloat(e.Amount))
	}

	s := MonthlySummary{
		Months:      make([]string, 0, len(months)),
		CategoryIDs: make([]int64, 0, len(sums)),
		totals:      make(map[int64]map[string]float64, len(sums)),
	}
	for m := range months {
		s.Months = append(s.Months, m)
	}
	sort.Strings(s.Months)

	for id, byMonth := range sums {
		s.CategoryIDs = append(s.CategoryIDs, id)
		col := make(map[string]float64, len(s.Months))
		for _, m := range s.Months {
			col[m] = byMonth[m].InexactFloat64()
		}
		s.totals[id] = col
	}
	sort.Slice(s.CategoryIDs, func(i, j int) bool { return s.CategoryIDs[i] < s.CategoryIDs[j] })

	return s
}

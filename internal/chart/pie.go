// Package chart renders category totals as a PNG pie chart.
package chart

import (
	"bytes"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"

	"budget/internal/core"
	"budget/internal/report"
)

const (
	Width  = 640
	Height = 480
)

// Slices converts totals into labelled pie values. Non-positive totals cannot
// be drawn as a slice and are left out.
func Slices(totals []report.CategoryTotal) []gochart.Value {
	var sum float64
	for _, t := range totals {
		if t.Total > 0 {
			sum += t.Total
		}
	}

	values := make([]gochart.Value, 0, len(totals))
	for _, t := range totals {
		if t.Total <= 0 {
			continue
		}
		values = append(values, gochart.Value{
			Label: fmt.Sprintf("%s %.1f%%", t.Name, t.Total/sum*100),
			Value: t.Total,
		})
	}
	return values
}

// RenderPie encodes totals as a PNG. It returns core.ErrNoData when nothing
// is drawable.
func RenderPie(totals []report.CategoryTotal) ([]byte, error) {
	values := Slices(totals)
	if len(values) == 0 {
		return nil, core.ErrNoData
	}

	pie := gochart.PieChart{
		Title:  "Expenses by Category",
		Width:  Width,
		Height: Height,
		Values: values,
	}

	var buf bytes.Buffer
	if err := pie.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render pie chart: %w", err)
	}
	return buf.Bytes(), nil
}

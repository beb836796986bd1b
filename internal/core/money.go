// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from form input
// and summing them without binary floating-point drift.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a float amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. No sign
// or range constraint is applied: refunds may be recorded as negatives.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("-3")    -> -3, nil
//	ParseAmount("abc")   -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return d.InexactFloat64(), nil
}

// Sum adds amounts in decimal arithmetic so that 0.1+0.2 reports 0.3.
func Sum(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	return total.InexactFloat64()
}

// FormatAmount renders an amount with two decimals for display.
func FormatAmount(a float64) string {
	return decimal.NewFromFloat(a).StringFixed(2)
}

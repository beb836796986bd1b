package http

import (
	"errors"
	"fmt"
	"html/template"
	"strings"

	"budget/internal/core"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// userMessages maps rejected input to the text shown on the index page.
var userMessages = []struct {
	err error
	msg string
}{
	{core.ErrReferentialIntegrity, "Unknown category."},
	{core.ErrEmptyName, "Name is required."},
	{core.ErrNameTooLong, "Name is too long (max 200 characters)."},
	{core.ErrInvalidAmount, "Amount must be a number."},
	{core.ErrMissingCategory, "Category is required."},
	{core.ErrInvalidCategory, "Invalid category."},
	{core.ErrMissingDate, "Date is required."},
	{core.ErrInvalidDate, "Date must be YYYY-MM-DD."},
}

// userMessage returns a short message for err that is safe to show.
func userMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	if core.IsValidationError(err) {
		return "Invalid input."
	}
	return "Something went wrong."
}

// templateFuncs are available to every page template.
var templateFuncs = template.FuncMap{
	"amount": core.FormatAmount,
	"date": func(d core.Date) string {
		if d.IsEmpty() {
			return "-"
		}
		return d.String()
	},
	"category": func(e core.Expense) string {
		if !e.HasCategory() {
			return "Uncategorised"
		}
		return e.CategoryName
	},
	"dict": dict,
}

// dict builds a map from alternating keys and values so partials can take
// more than one argument.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[key] = kv[i+1]
	}
	return m, nil
}

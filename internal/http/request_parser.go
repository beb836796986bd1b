// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Form values are sanitized and converted into core types here so handlers
// only deal with validated input.

package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"budget/internal/core"
)

// Form field names shared by the add and search forms.
const (
	fieldName       = "name"
	fieldAmount     = "amount"
	fieldCategoryID = "category_id"
	fieldDate       = "date"
	fieldStartDate  = "start_date"
	fieldEndDate    = "end_date"
)

// ParseNewExpense reads the add form. Every field is required; the first
// problem found is returned as a core validation error.
func ParseNewExpense(form url.Values) (core.NewExpense, error) {
	e := core.NewExpense{
		Name: sanitizeInput(form.Get(fieldName)),
	}
	if e.Name == "" {
		return core.NewExpense{}, core.ErrEmptyName
	}

	amount, err := core.ParseAmount(form.Get(fieldAmount))
	if err != nil {
		return core.NewExpense{}, err
	}
	e.Amount = amount

	id, err := parseCategoryID(form.Get(fieldCategoryID))
	if err != nil {
		return core.NewExpense{}, err
	}
	if id == 0 {
		return core.NewExpense{}, core.ErrMissingCategory
	}
	e.CategoryID = id

	raw := strings.TrimSpace(form.Get(fieldDate))
	if raw == "" {
		return core.NewExpense{}, core.ErrMissingDate
	}
	if e.Date, err = core.ParseDate(raw); err != nil {
		return core.NewExpense{}, err
	}

	return e, e.Validate()
}

// ParseFilter reads the optional search fields. Blank fields mean "no
// filter"; present but malformed fields are validation errors.
func ParseFilter(form url.Values) (core.Filter, error) {
	var f core.Filter

	id, err := parseCategoryID(form.Get(fieldCategoryID))
	if err != nil {
		return core.Filter{}, err
	}
	f.CategoryID = id

	if f.StartDate, err = parseOptionalDate(form.Get(fieldStartDate)); err != nil {
		return core.Filter{}, err
	}
	if f.EndDate, err = parseOptionalDate(form.Get(fieldEndDate)); err != nil {
		return core.Filter{}, err
	}

	return f, f.Validate()
}

// parseCategoryID returns 0 for a blank value.
func parseCategoryID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.ErrInvalidCategory
	}
	return id, nil
}

func parseOptionalDate(s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s)
}

// FormValues returns the request values a handler should read: the query
// string for GET and the parsed body for POST. A body that cannot be parsed
// is reported as a validation error.
func FormValues(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, core.ErrValidation
	}
	return r.PostForm, nil
}

// FilterFormValues echoes a filter back into form values for re-rendering.
func FilterFormValues(f core.Filter) url.Values {
	v := url.Values{}
	if f.CategoryID != 0 {
		v.Set(fieldCategoryID, strconv.FormatInt(f.CategoryID, 10))
	}
	if !f.StartDate.IsEmpty() {
		v.Set(fieldStartDate, f.StartDate.String())
	}
	if !f.EndDate.IsEmpty() {
		v.Set(fieldEndDate, f.EndDate.String())
	}
	return v
}

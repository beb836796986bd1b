package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used for storage and filters.
const DateLayout = "2006-01-02"

// DefaultCategories are seeded by the schema manager on every start.
var DefaultCategories = []string{"Food", "Utilities", "Entertainment"}

type (
	Date struct {
		time.Time
	}

	Category struct {
		ID   int64
		Name string
	}

	// Expense is a ledger row joined with its category name.
	Expense struct {
		ID           int64
		Name         string
		Amount       float64
		CategoryID   int64 // 0 when uncategorised
		CategoryName string
		Date         Date // zero when undated
	}

	// NewExpense is the input of the add operation.
	NewExpense struct {
		Name       string
		Amount     float64
		CategoryID int64
		Date       Date
	}

	// Filter selects expenses for search. Zero fields are not applied.
	Filter struct {
		CategoryID int64
		StartDate  Date
		EndDate    Date
	}
)

var (
	ErrEmptyName       = fmt.Errorf("%w: empty name", ErrValidation)
	ErrNameTooLong     = fmt.Errorf("%w: name too long (max 200 characters)", ErrValidation)
	ErrInvalidAmount   = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrMissingCategory = fmt.Errorf("%w: category is required", ErrValidation)
	ErrInvalidCategory = fmt.Errorf("%w: invalid category", ErrValidation)
	ErrMissingDate     = fmt.Errorf("%w: date is required", ErrValidation)
	ErrInvalidDate     = fmt.Errorf("%w: invalid date, expected YYYY-MM-DD", ErrValidation)
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// IsEmpty returns true if the date is zero (for optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// String renders the ISO form, or "" for an empty date.
func (d Date) String() string {
	if d.IsEmpty() {
		return ""
	}
	return d.Format(DateLayout)
}

// MonthKey returns the YYYY-MM label of the date's month.
func (d Date) MonthKey() string {
	if d.IsEmpty() {
		return ""
	}
	return d.Format("2006-01")
}

// Ordinal is the proleptic Gregorian day number where 0001-01-01 is day 1.
func (d Date) Ordinal() int64 {
	days := d.Unix() / 86400
	if d.Unix() < 0 && d.Unix()%86400 != 0 {
		days--
	}
	return days + 719163
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	return nil
}

func (e NewExpense) Validate() error {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}
	if math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return ErrInvalidAmount
	}
	if e.CategoryID == 0 {
		return ErrMissingCategory
	}
	if e.CategoryID < 0 {
		return ErrInvalidCategory
	}
	return e.Date.Validate()
}

func (f Filter) Validate() error {
	if f.CategoryID < 0 {
		return ErrInvalidCategory
	}
	return nil
}

// IsEmpty reports whether no filter is applied.
func (f Filter) IsEmpty() bool {
	return f.CategoryID == 0 && f.StartDate.IsEmpty() && f.EndDate.IsEmpty()
}

// HasCategory reports whether the expense references a category.
func (e Expense) HasCategory() bool {
	return e.CategoryID != 0
}

// IsValidationError reports whether err was caused by rejected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// MarshalJSON encodes the date as "YYYY-MM-DD", or null when empty.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsEmpty() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

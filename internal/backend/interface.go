package backend

import (
	"context"

	"budget/internal/sheets"
)

// Factory creates the mirror sink the worker writes to.
type Factory interface {
	CreateMirror(ctx context.Context, config Config) (sheets.ExpenseWriter, error)
}

// Config holds configuration for mirror creation
type Config struct {
	Type Type

	// Google Sheets specific
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string
}

// Type names a mirror backend.
type Type string

const (
	SheetsBackend Type = "sheets"
	MemoryBackend Type = "memory"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

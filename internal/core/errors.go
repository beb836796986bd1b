package core

import "errors"

// Error kinds surfaced by the ledger. Callers match them with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrReferentialIntegrity = errors.New("referenced category does not exist")
	ErrNoData               = errors.New("no data available")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrNotFound             = errors.New("not found")
)

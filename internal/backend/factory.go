package backend

import (
	"context"
	"fmt"

	applog "budget/internal/log"
	"budget/internal/sheets"
	gsheet "budget/internal/sheets/google"
	"budget/internal/sheets/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentSheets),
	}
}

// CreateMirror implements Factory.CreateMirror
func (f *DefaultFactory) CreateMirror(ctx context.Context, config Config) (sheets.ExpenseWriter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SheetsBackend:
		return f.createSheetsMirror(ctx, config)
	case MemoryBackend:
		f.logger.Info("Initialized in-memory mirror")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %s", config.Type)
	}
}

func (f *DefaultFactory) createSheetsMirror(ctx context.Context, config Config) (sheets.ExpenseWriter, error) {
	cli, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsFile: config.GoogleCredentialsFile,
		CredentialsJSON: config.GoogleCredentialsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	if err := cli.EnsureHeader(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare mirror sheet: %w", err)
	}

	f.logger.Info("Initialized Google Sheets mirror",
		applog.FieldSpreadsheetID, config.GoogleSpreadsheetID,
		"sheet", config.GoogleSheetName)
	return cli, nil
}

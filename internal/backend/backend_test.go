package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"budget/internal/config"
	"budget/internal/sheets/memory"
)

func TestFromAppConfig(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := FromAppConfig(nil)
		require.Error(t, err)
	})

	t.Run("sheets", func(t *testing.T) {
		cfg, err := FromAppConfig(&config.Config{
			MirrorBackend:         "sheets",
			GoogleSpreadsheetID:   "sheet-1",
			GoogleSheetName:       "Expenses",
			GoogleCredentialsFile: "/run/secrets/sa.json",
		})
		require.NoError(t, err)
		require.Equal(t, SheetsBackend, cfg.Type)
		require.Equal(t, "sheet-1", cfg.GoogleSpreadsheetID)
		require.NoError(t, cfg.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := FromAppConfig(&config.Config{MirrorBackend: "excel"})
		require.ErrorContains(t, err, "invalid mirror backend")
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory needs nothing", Config{Type: MemoryBackend}, ""},
		{"invalid type", Config{Type: "nope"}, "invalid mirror backend"},
		{"sheets without id", Config{Type: SheetsBackend, GoogleSheetName: "E", GoogleCredentialsJSON: "{}"}, "Spreadsheet ID"},
		{"sheets without name", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x", GoogleCredentialsJSON: "{}"}, "Sheet name"},
		{"sheets without credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x", GoogleSheetName: "E"}, "GoogleCredentialsFile"},
		{"sheets with inline credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "x", GoogleSheetName: "E", GoogleCredentialsJSON: "{}"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTypeStrings(t *testing.T) {
	require.Equal(t, []string{"sheets", "memory"}, TypeStrings())
	require.True(t, Type("memory").IsValid())
	require.False(t, Type("sqlite").IsValid())
}

func TestCreateMirror(t *testing.T) {
	f := NewFactory(nil)

	w, err := f.CreateMirror(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, w)

	_, err = f.CreateMirror(context.Background(), Config{Type: SheetsBackend})
	require.Error(t, err)
}

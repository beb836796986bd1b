package worker

import (
	"context"
	"errors"
	"fmt"

	"budget/internal/amqp"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/sheets"
)

// ExpenseReader loads a stored expense by id.
type ExpenseReader interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
}

// MirrorWorker copies newly created expenses into the mirror sheet.
type MirrorWorker struct {
	store  ExpenseReader
	sheets sheets.ExpenseWriter
	logger *applog.Logger
}

func NewMirrorWorker(store ExpenseReader, writer sheets.ExpenseWriter, logger *applog.Logger) *MirrorWorker {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &MirrorWorker{
		store:  store,
		sheets: writer,
		logger: logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleExpenseCreated mirrors one expense.created message. An expense that
// no longer exists is dropped; any other failure is returned so the message
// is redelivered.
func (w *MirrorWorker) HandleExpenseCreated(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	w.logger.DebugContext(ctx, "Processing expense created message",
		applog.FieldExpenseID, msg.ID,
		applog.FieldOperation, applog.OpMirror)

	expense, err := w.store.GetExpense(ctx, msg.ID)
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Expense vanished before mirroring, dropping message",
			applog.FieldExpenseID, msg.ID,
			applog.FieldErrorType, applog.ErrorTypeNotFound,
			applog.FieldOperation, applog.OpMirror)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense %d: %w", msg.ID, err)
	}

	ref, err := w.sheets.Append(ctx, expense)
	if err != nil {
		return fmt.Errorf("append expense %d: %w", msg.ID, err)
	}

	fields := applog.NewFields().
		WithOperation(applog.OpMirror).
		WithExpenseID(expense.ID).
		WithExpense(expense.Name, expense.Amount, expense.CategoryID, expense.Date.String())
	w.logger.InfoContext(ctx, "Mirrored expense", append(fields.ToSlice(), "row_ref", ref)...)

	return nil
}

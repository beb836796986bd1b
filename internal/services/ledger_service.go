package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"budget/internal/chart"
	"budget/internal/core"
	"budget/internal/export"
	"budget/internal/forecast"
	"budget/internal/report"
)

// LedgerStore is the persistence the service depends on.
type LedgerStore interface {
	AddExpense(ctx context.Context, e core.NewExpense) (int64, error)
	ListExpenses(ctx context.Context) ([]core.Expense, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	SearchExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher announces stored expenses to other processes.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, id int64) error
	Close() error
}

// LedgerService orchestrates the ledger store, the aggregation and forecast
// engines and event publication.
type LedgerService struct {
	store     LedgerStore
	publisher EventPublisher
	now       func() time.Time
	refMonth  time.Time // zero: the current month
	failures  interface{ Inc() }
}

type Option func(*LedgerService)

// WithPublisher enables expense.created announcements.
func WithPublisher(p EventPublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// WithPublishFailures counts announcements that could not be sent.
func WithPublishFailures(c interface{ Inc() }) Option {
	return func(s *LedgerService) { s.failures = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// WithReferenceMonth pins the month the forecast projects from.
func WithReferenceMonth(month time.Time) Option {
	return func(s *LedgerService) { s.refMonth = month }
}

func NewLedgerService(store LedgerStore, opts ...Option) *LedgerService {
	s := &LedgerService{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddExpense saves an expense locally and then announces it
func (s *LedgerService) AddExpense(ctx context.Context, e core.NewExpense) (int64, error) {
	// Save to SQLite first (fast, reliable)
	id, err := s.store.AddExpense(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("save expense: %w", err)
	}

	if err := s.publishCreated(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish expense created message",
			"id", id, "error", err)
		if s.failures != nil {
			s.failures.Inc()
		}
		// Don't fail the request - expense is saved locally
	}

	return id, nil
}

func (s *LedgerService) publishCreated(ctx context.Context, id int64) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishExpenseCreated(ctx, id)
}

func (s *LedgerService) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx)
}

func (s *LedgerService) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.store.ListCategories(ctx)
}

// SearchExpenses applies f; an empty filter behaves like ListExpenses.
func (s *LedgerService) SearchExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	return s.store.SearchExpenses(ctx, f)
}

// CategoryTotals returns per-category sums, or core.ErrNoData.
func (s *LedgerService) CategoryTotals(ctx context.Context) ([]report.CategoryTotal, error) {
	items, err := s.store.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}
	return report.CategoryTotals(items)
}

// ExpenseChart renders category totals as a PNG pie.
func (s *LedgerService) ExpenseChart(ctx context.Context) ([]byte, error) {
	totals, err := s.CategoryTotals(ctx)
	if err != nil {
		return nil, err
	}
	return chart.RenderPie(totals)
}

func (s *LedgerService) MonthlySummary(ctx context.Context) (report.MonthlySummary, error) {
	items, err := s.store.ListExpenses(ctx)
	if err != nil {
		return report.MonthlySummary{}, err
	}
	return report.MonthlyCategoryTotals(items), nil
}

// Forecast projects the next three months from the whole ledger.
func (s *LedgerService) Forecast(ctx context.Context) ([]forecast.Prediction, error) {
	items, err := s.store.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return forecast.Forecast(forecast.FromExpenses(items), s.ReferenceMonth(), now)
}

// ReferenceMonth is the configured forecast month, or the current one.
func (s *LedgerService) ReferenceMonth() time.Time {
	if s.refMonth.IsZero() {
		return s.now()
	}
	return s.refMonth
}

// ExportWorkbook writes the whole ledger as XLSX.
func (s *LedgerService) ExportWorkbook(ctx context.Context, w io.Writer) error {
	items, err := s.store.ListExpenses(ctx)
	if err != nil {
		return err
	}
	return export.WriteWorkbook(w, items)
}

// Ready reports whether the store answers.
func (s *LedgerService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close closes both storage and AMQP connections
func (s *LedgerService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}

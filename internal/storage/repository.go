package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"budget/internal/core"

	_ "modernc.org/sqlite"
)

// Every connection enforces foreign keys and waits on a locked file before
// reporting SQLITE_BUSY.
const connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

const selectExpenses = `SELECT e.id, e.name, e.amount, e.category_id, e.date, c.name
FROM expenses e
LEFT JOIN categories c ON c.id = e.category_id`

type SQLiteRepository struct {
	db      *sql.DB
	retries int
}

// Option customises a repository.
type Option func(*SQLiteRepository)

// WithBusyRetries sets how many times a busy database is retried.
func WithBusyRetries(n int) Option {
	return func(r *SQLiteRepository) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// NewSQLiteRepository migrates and opens the database file at dbPath.
// Migrations run on their own handle, so only file-backed databases are
// accepted; in-memory names are rejected.
func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if isInMemory(dbPath) {
		return nil, fmt.Errorf("%w: in-memory database %q is not supported, use a file path", core.ErrValidation, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the main handle is opened
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite has a single writer; a small pool keeps lock contention low.
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		retries: DefaultBusyRetries,
	}
	for _, opt := range opts {
		opt(repo)
	}

	return repo, nil
}

func isInMemory(dbPath string) bool {
	p := strings.ToLower(strings.TrimSpace(dbPath))
	return p == "" || p == ":memory:" ||
		strings.HasPrefix(p, "file::memory:") ||
		strings.Contains(p, "mode=memory")
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + connPragmas
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the database file is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.withRetry(ctx, "ping", func() error {
		return r.db.PingContext(ctx)
	})
}

// AddExpense inserts a validated expense and returns its id.
func (r *SQLiteRepository) AddExpense(ctx context.Context, e core.NewExpense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := r.withRetry(ctx, "insert expense", func() error {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO expenses (name, amount, category_id, date) VALUES (?, ?, ?, ?)`,
			strings.TrimSpace(e.Name), e.Amount, nullableID(e.CategoryID), nullableDate(e.Date))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", id,
		"name", e.Name,
		"amount", e.Amount,
		"category_id", e.CategoryID,
		"date", e.Date.String())

	return id, nil
}

// ListExpenses returns every expense with its category name, oldest first.
func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return r.queryExpenses(ctx, "list expenses", selectExpenses+` ORDER BY e.id`)
}

// SearchExpenses returns expenses matching every supplied filter. Date bounds
// are inclusive and compared as ISO text.
func (r *SQLiteRepository) SearchExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	query := selectExpenses + ` WHERE 1=1`
	var args []any
	if f.CategoryID != 0 {
		query += ` AND e.category_id = ?`
		args = append(args, f.CategoryID)
	}
	if !f.StartDate.IsEmpty() {
		query += ` AND e.date >= ?`
		args = append(args, f.StartDate.String())
	}
	if !f.EndDate.IsEmpty() {
		query += ` AND e.date <= ?`
		args = append(args, f.EndDate.String())
	}
	query += ` ORDER BY e.id`

	return r.queryExpenses(ctx, "search expenses", query, args...)
}

// GetExpense retrieves a single expense by ID
func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	items, err := r.queryExpenses(ctx, "get expense", selectExpenses+` WHERE e.id = ?`, id)
	if err != nil {
		return core.Expense{}, err
	}
	if len(items) == 0 {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, core.ErrNotFound)
	}
	return items[0], nil
}

// ListCategories returns every category in id order.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	var cats []core.Category
	err := r.withRetry(ctx, "list categories", func() error {
		cats = cats[:0]
		rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c core.Category
			if err := rows.Scan(&c.ID, &c.Name); err != nil {
				return err
			}
			cats = append(cats, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return cats, nil
}

func (r *SQLiteRepository) queryExpenses(ctx context.Context, op, query string, args ...any) ([]core.Expense, error) {
	var items []core.Expense
	err := r.withRetry(ctx, op, func() error {
		items = items[:0]
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanExpense(rows)
			if err != nil {
				return err
			}
			items = append(items, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func scanExpense(rows *sql.Rows) (core.Expense, error) {
	var (
		e            core.Expense
		categoryID   sql.NullInt64
		date         sql.NullString
		categoryName sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Name, &e.Amount, &categoryID, &date, &categoryName); err != nil {
		return core.Expense{}, err
	}
	if categoryID.Valid {
		e.CategoryID = categoryID.Int64
	}
	e.CategoryName = categoryName.String
	if date.Valid && date.String != "" {
		d, err := core.ParseDate(date.String)
		if err != nil {
			// Rows written by other tools may carry a non-ISO date.
			return core.Expense{}, fmt.Errorf("expense %d has malformed date %q", e.ID, date.String)
		}
		e.Date = d
	}
	return e, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableDate(d core.Date) any {
	if d.IsEmpty() {
		return nil
	}
	return d.String()
}

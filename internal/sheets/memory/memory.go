package memory

import (
	"context"
	"fmt"
	"sync"

	"budget/internal/core"
	ports "budget/internal/sheets"
)

// Store is an in-process mirror sink. It keeps the rows it would have
// written, in arrival order, and ignores a redelivered expense id.
type Store struct {
	mu   sync.Mutex
	rows [][]any
	seen map[int64]int
}

var _ ports.ExpenseWriter = (*Store)(nil)

func New() *Store {
	return &Store{seen: make(map[int64]int)}
}

// Append stores the expense row and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, e core.Expense) (string, error) {
	if e.ID <= 0 {
		return "", fmt.Errorf("append expense: %w", core.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.seen[e.ID]; ok {
		return fmt.Sprintf("mem:%d", n), nil
	}
	s.rows = append(s.rows, ports.Row(e))
	s.seen[e.ID] = len(s.rows)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of the mirrored rows.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

package sheets

import (
	"context"

	"budget/internal/core"
)

// Ports for outbound adapters.
type (
	// ExpenseWriter mirrors a stored expense as one spreadsheet row.
	ExpenseWriter interface {
		Append(ctx context.Context, e core.Expense) (rowRef string, err error)
	}
)

// Header is the column layout of the mirror sheet.
var Header = []string{"ID", "Name", "Amount", "Category", "Date"}

// Row renders e in Header order. Missing category and date are blank cells.
func Row(e core.Expense) []any {
	category := ""
	if e.HasCategory() {
		category = e.CategoryName
	}
	return []any{e.ID, e.Name, e.Amount, category, e.Date.String()}
}

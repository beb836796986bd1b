package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/export"
	"budget/internal/forecast"
	"budget/internal/metrics"
	"budget/internal/report"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type fakeLedger struct {
	mu sync.Mutex

	expenses   []core.Expense
	categories []core.Category
	added      []core.NewExpense

	addErr      error
	listErr     error
	chartErr    error
	forecastErr error
	readyErr    error
	panicOnList bool

	chartCalls   int
	summaryCalls int
	lastFilter   core.Filter
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		categories: []core.Category{{ID: 1, Name: "Food"}, {ID: 2, Name: "Utilities"}},
		expenses: []core.Expense{
			{ID: 1, Name: "bread", Amount: 2.5, CategoryID: 1, CategoryName: "Food", Date: core.NewDate(2024, 1, 10)},
			{ID: 2, Name: "power", Amount: 60, CategoryID: 2, CategoryName: "Utilities", Date: core.NewDate(2024, 2, 1)},
		},
	}
}

func (f *fakeLedger) AddExpense(ctx context.Context, e core.NewExpense) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.added = append(f.added, e)
	return int64(len(f.expenses) + len(f.added)), nil
}

func (f *fakeLedger) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	if f.panicOnList {
		panic("list exploded")
	}
	return f.expenses, f.listErr
}

func (f *fakeLedger) ListCategories(ctx context.Context) ([]core.Category, error) {
	return f.categories, nil
}

func (f *fakeLedger) SearchExpenses(ctx context.Context, filter core.Filter) ([]core.Expense, error) {
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()

	var out []core.Expense
	for _, e := range f.expenses {
		if filter.CategoryID == 0 || e.CategoryID == filter.CategoryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) ExpenseChart(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.chartCalls++
	f.mu.Unlock()
	if f.chartErr != nil {
		return nil, f.chartErr
	}
	return append([]byte{}, pngMagic...), nil
}

func (f *fakeLedger) MonthlySummary(ctx context.Context) (report.MonthlySummary, error) {
	f.mu.Lock()
	f.summaryCalls++
	f.mu.Unlock()
	return report.MonthlyCategoryTotals(f.expenses), f.listErr
}

func (f *fakeLedger) Forecast(ctx context.Context) ([]forecast.Prediction, error) {
	if f.forecastErr != nil {
		return nil, f.forecastErr
	}
	return []forecast.Prediction{
		{Date: core.NewDate(2024, 3, 1), Amount: 70},
		{Date: core.NewDate(2024, 4, 1), Amount: 80.5},
		{Date: core.NewDate(2024, 5, 1), Amount: 91},
	}, nil
}

func (f *fakeLedger) ExportWorkbook(ctx context.Context, w io.Writer) error {
	_, err := w.Write([]byte("PK\x03\x04"))
	return err
}

func (f *fakeLedger) Ready(ctx context.Context) error { return f.readyErr }

func newTestServer(t *testing.T, ledger Ledger, cfg Config) *Server {
	t.Helper()
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := NewServer(cfg, ledger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func do(srv *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestIndexListsExpensesAndCategories(t *testing.T) {
	srv := newTestServer(t, newFakeLedger(), Config{})

	rr := do(srv, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"bread", "power", "Food", "Utilities", "62.50", `action="/add"`} {
		if !strings.Contains(body, want) {
			t.Errorf("index body missing %q", want)
		}
	}
	if strings.Contains(body, `class="error"`) {
		t.Error("index should not show an error banner")
	}
}

func TestIndexShowsEscapedErrorMessage(t *testing.T) {
	srv := newTestServer(t, newFakeLedger(), Config{})

	rr := do(srv, http.MethodGet, "/?error="+url.QueryEscape("<b>bad</b>"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "<b>bad</b>") {
		t.Error("error message must be escaped")
	}
	if !strings.Contains(body, "&lt;b&gt;bad&lt;/b&gt;") {
		t.Error("escaped error message missing")
	}
}

func TestAddExpense(t *testing.T) {
	validForm := func() url.Values {
		return url.Values{"name": {"Lunch"}, "amount": {"12.5"}, "category_id": {"1"}, "date": {"2024-01-15"}}
	}

	t.Run("success redirects home and invalidates caches", func(t *testing.T) {
		ledger := newFakeLedger()
		m := metrics.New()
		srv := newTestServer(t, ledger, Config{Metrics: m})

		do(srv, http.MethodGet, "/expense_chart", nil)
		do(srv, http.MethodGet, "/expense_chart", nil)
		if ledger.chartCalls != 1 {
			t.Fatalf("chart should be cached, calls=%d", ledger.chartCalls)
		}

		rr := do(srv, http.MethodPost, "/add", validForm())
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("add status=%d", rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "/" {
			t.Fatalf("Location=%q, want /", loc)
		}
		if len(ledger.added) != 1 || ledger.added[0].Name != "Lunch" {
			t.Fatalf("added=%+v", ledger.added)
		}

		do(srv, http.MethodGet, "/expense_chart", nil)
		if ledger.chartCalls != 2 {
			t.Errorf("chart cache should be cleared after add, calls=%d", ledger.chartCalls)
		}

		scrape := do(srv, http.MethodGet, "/metrics", nil).Body.String()
		if !strings.Contains(scrape, "budget_expenses_created_total 1") {
			t.Error("expenses_created_total not incremented")
		}
	})

	tests := []struct {
		name    string
		mutate  func(url.Values)
		addErr  error
		wantMsg string
	}{
		{"missing name", func(v url.Values) { v.Del("name") }, nil, "Name is required."},
		{"bad amount", func(v url.Values) { v.Set("amount", "twelve") }, nil, "Amount must be a number."},
		{"missing category", func(v url.Values) { v.Set("category_id", "") }, nil, "Category is required."},
		{"bad date", func(v url.Values) { v.Set("date", "2024/01/15") }, nil, "Date must be YYYY-MM-DD."},
		{"unknown category", func(url.Values) {}, core.ErrReferentialIntegrity, "Unknown category."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			ledger.addErr = tt.addErr
			srv := newTestServer(t, ledger, Config{})

			form := validForm()
			tt.mutate(form)
			rr := do(srv, http.MethodPost, "/add", form)

			if rr.Code != http.StatusSeeOther {
				t.Fatalf("add status=%d", rr.Code)
			}
			want := "/?error=" + url.QueryEscape(tt.wantMsg)
			if loc := rr.Header().Get("Location"); loc != want {
				t.Errorf("Location=%q, want %q", loc, want)
			}
			if len(ledger.added) != 0 {
				t.Errorf("nothing should be written, added=%+v", ledger.added)
			}
		})
	}

	t.Run("storage unavailable", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.addErr = core.ErrStorageUnavailable
		srv := newTestServer(t, ledger, Config{})

		rr := do(srv, http.MethodPost, "/add", validForm())
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("add status=%d, want 503", rr.Code)
		}
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		srv := newTestServer(t, newFakeLedger(), Config{})
		rr := do(srv, http.MethodGet, "/add", nil)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET /add status=%d, want 405", rr.Code)
		}
	})
}

func TestExpenseChart(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		srv := newTestServer(t, newFakeLedger(), Config{})
		rr := do(srv, http.MethodGet, "/expense_chart", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("chart status=%d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type=%q", ct)
		}
		if !strings.HasPrefix(rr.Body.String(), string(pngMagic)) {
			t.Error("body is not a PNG")
		}
	})

	t.Run("no data", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.chartErr = core.ErrNoData
		srv := newTestServer(t, ledger, Config{})

		rr := do(srv, http.MethodGet, "/expense_chart", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("chart status=%d, want 404", rr.Code)
		}
		if got := rr.Body.String(); got != `{"error":"No data available for chart."}` {
			t.Errorf("body=%s", got)
		}

		// Errors are not cached.
		do(srv, http.MethodGet, "/expense_chart", nil)
		if ledger.chartCalls != 2 {
			t.Errorf("chart calls=%d, want 2", ledger.chartCalls)
		}
	})
}

func TestSearch(t *testing.T) {
	t.Run("GET with category", func(t *testing.T) {
		ledger := newFakeLedger()
		srv := newTestServer(t, ledger, Config{})

		rr := do(srv, http.MethodGet, "/search?category_id=2&start_date=2024-01-01", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("search status=%d", rr.Code)
		}
		body := rr.Body.String()
		if !strings.Contains(body, "power") || strings.Contains(body, "bread") {
			t.Errorf("unexpected results: %s", body)
		}
		want := core.Filter{CategoryID: 2, StartDate: core.NewDate(2024, 1, 1)}
		if ledger.lastFilter != want {
			t.Errorf("filter=%+v, want %+v", ledger.lastFilter, want)
		}
		if !strings.Contains(body, `value="2024-01-01"`) {
			t.Error("filter should be echoed into the form")
		}
	})

	t.Run("POST without filters lists everything", func(t *testing.T) {
		srv := newTestServer(t, newFakeLedger(), Config{})
		rr := do(srv, http.MethodPost, "/search", url.Values{"category_id": {""}})
		if rr.Code != http.StatusOK {
			t.Fatalf("search status=%d", rr.Code)
		}
		body := rr.Body.String()
		if !strings.Contains(body, "power") || !strings.Contains(body, "bread") {
			t.Error("empty filter should return every expense")
		}
	})

	t.Run("malformed filter", func(t *testing.T) {
		srv := newTestServer(t, newFakeLedger(), Config{})
		rr := do(srv, http.MethodGet, "/search?start_date=not-a-date", nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("search status=%d, want 400", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Date must be YYYY-MM-DD.") {
			t.Error("error message missing")
		}
	})
}

func TestMonthlySummary(t *testing.T) {
	ledger := newFakeLedger()
	srv := newTestServer(t, ledger, Config{})

	rr := do(srv, http.MethodGet, "/monthly_summary", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d", rr.Code)
	}

	var got map[string]map[string]float64
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]map[string]float64{
		"1": {"2024-01": 2.5, "2024-02": 0},
		"2": {"2024-01": 0, "2024-02": 60},
	}
	if len(got) != len(want) {
		t.Fatalf("summary=%v, want %v", got, want)
	}
	for cat, months := range want {
		for month, total := range months {
			if got[cat][month] != total {
				t.Errorf("summary[%s][%s]=%v, want %v", cat, month, got[cat][month], total)
			}
		}
	}

	do(srv, http.MethodGet, "/monthly_summary", nil)
	if ledger.summaryCalls != 1 {
		t.Errorf("summary should be cached, calls=%d", ledger.summaryCalls)
	}
}

func TestForecastExpenses(t *testing.T) {
	t.Run("predictions", func(t *testing.T) {
		srv := newTestServer(t, newFakeLedger(), Config{})
		rr := do(srv, http.MethodGet, "/forecast_expenses", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("forecast status=%d", rr.Code)
		}
		want := `{"date":["2024-03-01","2024-04-01","2024-05-01"],"prediction":[70,80.5,91]}`
		if got := rr.Body.String(); got != want {
			t.Errorf("body=%s, want %s", got, want)
		}
	})

	t.Run("insufficient data", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.forecastErr = core.ErrInsufficientData
		srv := newTestServer(t, ledger, Config{})

		rr := do(srv, http.MethodGet, "/forecast_expenses", nil)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("forecast status=%d, want 422", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"error"`) {
			t.Errorf("body=%s", rr.Body.String())
		}
	})
}

func TestExportWorkbook(t *testing.T) {
	srv := newTestServer(t, newFakeLedger(), Config{})

	rr := do(srv, http.MethodGet, "/export.xlsx", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != export.ContentType {
		t.Errorf("Content-Type=%q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="expenses_`) {
		t.Errorf("Content-Disposition=%q", cd)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ledger := newFakeLedger()
	srv := newTestServer(t, ledger, Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	ledger.readyErr = core.ErrStorageUnavailable
	if rr := do(srv, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz should not depend on storage, status=%d", rr.Code)
	}
}

func TestStorageErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unavailable", core.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"unexpected", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			ledger.listErr = tt.err
			srv := newTestServer(t, ledger, Config{})

			rr := do(srv, http.MethodGet, "/", nil)
			if rr.Code != tt.want {
				t.Fatalf("status=%d, want %d", rr.Code, tt.want)
			}
			if strings.Contains(rr.Body.String(), tt.err.Error()) {
				t.Error("internal error text must not leak")
			}
		})
	}
}

func TestPanicIsRecovered(t *testing.T) {
	ledger := newFakeLedger()
	ledger.panicOnList = true
	srv := newTestServer(t, ledger, Config{})

	rr := do(srv, http.MethodGet, "/", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv := newTestServer(t, newFakeLedger(), Config{})

	rr := do(srv, http.MethodGet, "/", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if !strings.Contains(rr.Header().Get("Content-Security-Policy"), "script-src 'none'") {
		t.Error("CSP missing")
	}
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t, newFakeLedger(), Config{})

	rr := do(srv, http.MethodGet, "/static/style.css", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("static status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "max-age=3600") {
		t.Errorf("Cache-Control=%q", rr.Header().Get("Cache-Control"))
	}
}

func TestRateLimitAppliesToPosts(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, newFakeLedger(), Config{RateLimitPerMinute: 1, Metrics: m})

	form := url.Values{"name": {"a"}, "amount": {"1"}, "category_id": {"1"}, "date": {"2024-01-01"}}
	if rr := do(srv, http.MethodPost, "/add", form); rr.Code != http.StatusSeeOther {
		t.Fatalf("first add status=%d", rr.Code)
	}
	rr := do(srv, http.MethodPost, "/add", form)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second add status=%d, want 429", rr.Code)
	}

	// Reads are never limited.
	if rr := do(srv, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}

	scrape := do(srv, http.MethodGet, "/metrics", nil).Body.String()
	if !strings.Contains(scrape, "budget_rate_limit_hits_total 1") {
		t.Error("rate limit hit not counted")
	}
	if !strings.Contains(scrape, `budget_http_requests_total{method="POST",route="POST /add",status="303"} 1`) {
		t.Errorf("request metric missing route label:\n%s", scrape)
	}
	// Rejected before routing, so no pattern is known.
	if !strings.Contains(scrape, `budget_http_requests_total{method="POST",route="unmatched",status="429"} 1`) {
		t.Errorf("rate limited request not recorded:\n%s", scrape)
	}
}

func TestNewServerRejectsBadTrustedProxy(t *testing.T) {
	if _, err := NewServer(Config{TrustedProxies: []string{"not-a-cidr"}}, newFakeLedger()); err == nil {
		t.Fatal("expected an error for a malformed CIDR")
	}
}

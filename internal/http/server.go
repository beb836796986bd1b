package http

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"budget/internal/cache"
	"budget/internal/core"
	"budget/internal/forecast"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
	"budget/internal/report"
	appweb "budget/web"
)

// Ledger is what the handlers need from the ledger service.
type Ledger interface {
	AddExpense(ctx context.Context, e core.NewExpense) (int64, error)
	ListExpenses(ctx context.Context) ([]core.Expense, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	SearchExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error)
	ExpenseChart(ctx context.Context) ([]byte, error)
	MonthlySummary(ctx context.Context) (report.MonthlySummary, error)
	Forecast(ctx context.Context) ([]forecast.Prediction, error)
	ExportWorkbook(ctx context.Context, w io.Writer) error
	Ready(ctx context.Context) error
}

// Config holds server settings. Zero values fall back to defaults.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	TrustedProxies     []string
	CacheTTL           time.Duration
	Logger             *applog.Logger
	Metrics            *metrics.Metrics
}

const (
	defaultCacheTTL      = 5 * time.Minute
	cacheCleanupInterval = 10 * time.Minute
	staticMaxAge         = 3600

	chartCacheName   = "chart"
	summaryCacheName = "monthly_summary"
	cacheKey         = "all"
)

type Server struct {
	http.Server
	ledger    Ledger
	templates *template.Template
	logger    *applog.Logger
	events    *applog.StructuredLogger
	metrics   *metrics.Metrics
	started   time.Time

	// The chart PNG and the monthly summary are derived from the whole
	// ledger; both are dropped on every successful add.
	chartCache   *cache.LRUCache[[]byte]
	summaryCache *cache.LRUCache[report.MonthlySummary]
	cacheManager *cache.Manager

	// cacheGen counts invalidations. A view computed before the latest
	// invalidation is not stored.
	cacheMu  sync.Mutex
	cacheGen uint64

	limiter  *ratelimit.Limiter
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(cfg Config, ledger Ledger) (*Server, error) {
	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	s := &Server{
		ledger:       ledger,
		templates:    t,
		logger:       logger,
		events:       applog.NewStructuredLogger(logger),
		metrics:      m,
		started:      time.Now(),
		chartCache:   cache.NewLRUCache[[]byte](1, ttl),
		summaryCache: cache.NewLRUCache[report.MonthlySummary](1, ttl),
		cacheManager: cache.NewManager(),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		detector:     detector,
	}
	s.cacheManager.Register(s.chartCache)
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(cacheCleanupInterval)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", s.page(s.handleIndex))
	mux.Handle("POST /add", s.page(s.handleAdd))
	mux.Handle("GET /search", s.page(s.handleSearch))
	mux.Handle("POST /search", s.page(s.handleSearch))
	mux.Handle("GET /expense_chart", s.page(s.handleExpenseChart))
	mux.Handle("GET /monthly_summary", s.page(s.handleMonthlySummary))
	mux.Handle("GET /forecast_expenses", s.page(s.handleForecast))
	mux.Handle("GET /export.xlsx", s.page(s.handleExport))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServerFS(sub))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(staticMaxAge)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", "error", err)
	}

	// Middleware between trace and the mux must keep the request pointer,
	// so the matched pattern is visible to the trace observer.
	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited, http.MethodPost)(h)
	h = s.detector.Middleware(s.onSuspicious)(h)
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = s.recoverPanics(h)
	h = trace.NewMiddleware(s.detector.ExtractClientIP, s.metrics.ObserveRequest).Middleware(h)
	return h
}

// page attaches the request-scoped logger after routing.
func (s *Server) page(fn http.HandlerFunc) http.Handler {
	requestID := func(r *http.Request) string { return trace.GetRequestID(r.Context()) }
	return applog.Middleware(s.logger)(applog.RequestIDMiddleware(requestID)(fn))
}

func (s *Server) onRateLimited(r *http.Request) {
	s.metrics.RateLimited.Inc()
}

func (s *Server) onSuspicious(r *http.Request) {
	s.metrics.SuspiciousRequests.Inc()
}

// recoverPanics turns a handler panic into a logged 500.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "Handler panic",
					"panic", fmt.Sprint(rec),
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				InternalServerError("Internal server error").Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// invalidateCaches drops every derived view after the ledger changed.
func (s *Server) invalidateCaches() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen++
	s.chartCache.Clear()
	s.summaryCache.Clear()
}

// cacheGeneration is taken before reading the ledger for a cached view.
func (s *Server) cacheGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen
}

// storeIfCurrent runs store unless the caches were invalidated since gen.
func (s *Server) storeIfCurrent(gen uint64, store func()) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen == gen {
		store()
	}
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()

		shutdownErr = s.Server.Shutdown(ctx)
		slog.InfoContext(ctx, "HTTP server stopped",
			"rate_limited_total", s.limiter.TotalHits(),
			"suspicious_total", s.detector.SuspiciousRequests())
	})

	return shutdownErr
}

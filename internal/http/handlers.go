package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"budget/internal/core"
	"budget/internal/export"
	"budget/internal/forecast"
	applog "budget/internal/log"
)

// pageData feeds index.html and search.html.
type pageData struct {
	Expenses   []core.Expense
	Categories []core.Category
	Total      float64
	Error      string
	Today      string
	Filter     url.Values
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			applog.NewFields().WithError(err).WithOperation(applog.OpRender).ToSlice()...)
		HTMLErrorResponse(http.StatusInternalServerError, "Internal server error").Write(w)
		return
	}
	NewResponse().Status(status).BodyHTML(buf.String()).Write(w)
}

func totalOf(items []core.Expense) float64 {
	amounts := make([]float64, len(items))
	for i, e := range items {
		amounts[i] = e.Amount
	}
	return core.Sum(amounts...)
}

// writeError maps a ledger error onto the JSON error shape.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := applog.FromContext(r.Context())

	switch {
	case errors.Is(err, core.ErrNoData):
		NotFoundError("No data available.").Write(w)
	case errors.Is(err, core.ErrInsufficientData):
		UnprocessableEntityError("Not enough data to forecast.").Write(w)
	case core.IsValidationError(err):
		s.events.LogRejected(r.Context(), "Request rejected", err, applog.ErrorTypeValidation, op)
		BadRequestError(userMessage(err)).Write(w)
	case errors.Is(err, core.ErrStorageUnavailable):
		logger.ErrorContext(r.Context(), "Storage unavailable",
			applog.NewFields().WithError(err).WithOperation(op).WithErrorType(applog.ErrorTypeDatabase).ToSlice()...)
		ServiceUnavailableError("Storage is busy, please retry.").Write(w)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to answer.
	default:
		logger.ErrorContext(r.Context(), "Request failed",
			applog.NewFields().WithError(err).WithOperation(op).WithErrorType(applog.ErrorTypeInternal).ToSlice()...)
		InternalServerError("Internal server error").Write(w)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := s.ledger.ListExpenses(ctx)
	if err != nil {
		s.writeError(w, r, applog.OpList, err)
		return
	}
	cats, err := s.ledger.ListCategories(ctx)
	if err != nil {
		s.writeError(w, r, applog.OpList, err)
		return
	}

	s.render(w, r, http.StatusOK, "index.html", pageData{
		Expenses:   items,
		Categories: cats,
		Total:      totalOf(items),
		Error:      sanitizeInput(r.URL.Query().Get("error")),
		Today:      core.DateOf(time.Now()).String(),
	})
}

// handleAdd always answers with a redirect: rejected input goes back to the
// index with a message and nothing is written.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	e, id, err := s.addFromForm(r)
	switch {
	case err == nil:
		s.invalidateCaches()
		s.metrics.ExpensesCreated.Inc()
		s.events.LogExpenseCreated(ctx, id, e.Name, e.Amount, e.CategoryID, e.Date.String())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	case errors.Is(err, core.ErrReferentialIntegrity):
		s.events.LogRejected(ctx, "Expense rejected", err, applog.ErrorTypeIntegrity, applog.OpCreate)
	case core.IsValidationError(err):
		s.events.LogRejected(ctx, "Expense rejected", err, applog.ErrorTypeValidation, applog.OpCreate)
	default:
		s.writeError(w, r, applog.OpCreate, err)
		return
	}
	http.Redirect(w, r, "/?error="+url.QueryEscape(userMessage(err)), http.StatusSeeOther)
}

func (s *Server) addFromForm(r *http.Request) (core.NewExpense, int64, error) {
	form, err := FormValues(r)
	if err != nil {
		return core.NewExpense{}, 0, err
	}
	e, err := ParseNewExpense(form)
	if err != nil {
		return e, 0, err
	}
	id, err := s.ledger.AddExpense(r.Context(), e)
	return e, id, err
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cats, err := s.ledger.ListCategories(ctx)
	if err != nil {
		s.writeError(w, r, applog.OpSearch, err)
		return
	}

	form, err := FormValues(r)
	var filter core.Filter
	if err == nil {
		filter, err = ParseFilter(form)
	}
	if err != nil {
		s.events.LogRejected(ctx, "Search rejected", err, applog.ErrorTypeValidation, applog.OpSearch)
		s.render(w, r, http.StatusBadRequest, "search.html", pageData{
			Categories: cats,
			Error:      userMessage(err),
			Filter:     form,
		})
		return
	}

	items, err := s.ledger.SearchExpenses(ctx, filter)
	if err != nil {
		s.writeError(w, r, applog.OpSearch, err)
		return
	}

	s.render(w, r, http.StatusOK, "search.html", pageData{
		Expenses:   items,
		Categories: cats,
		Total:      totalOf(items),
		Filter:     FilterFormValues(filter),
	})
}

func (s *Server) handleExpenseChart(w http.ResponseWriter, r *http.Request) {
	png, ok := s.chartCache.Get(cacheKey)
	if ok {
		s.metrics.CacheHit(chartCacheName)
	} else {
		s.metrics.CacheMiss(chartCacheName)
		gen := s.cacheGeneration()
		var err error
		png, err = s.ledger.ExpenseChart(r.Context())
		if errors.Is(err, core.ErrNoData) {
			NotFoundError("No data available for chart.").Write(w)
			return
		}
		if err != nil {
			s.writeError(w, r, applog.OpRender, err)
			return
		}
		s.storeIfCurrent(gen, func() { s.chartCache.Set(cacheKey, png) })
	}

	NewResponse().NoStore().BodyPNG(png).Write(w)
}

func (s *Server) handleMonthlySummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.summaryCache.Get(cacheKey)
	if ok {
		s.metrics.CacheHit(summaryCacheName)
	} else {
		s.metrics.CacheMiss(summaryCacheName)
		gen := s.cacheGeneration()
		var err error
		summary, err = s.ledger.MonthlySummary(r.Context())
		if err != nil {
			s.writeError(w, r, applog.OpAggregate, err)
			return
		}
		s.storeIfCurrent(gen, func() { s.summaryCache.Set(cacheKey, summary) })
	}

	NewResponse().NoStore().JSON(summary).Write(w)
}

// forecastBody is the column-oriented forecast payload.
type forecastBody struct {
	Date       []core.Date `json:"date"`
	Prediction []float64   `json:"prediction"`
}

func newForecastBody(preds []forecast.Prediction) forecastBody {
	body := forecastBody{
		Date:       make([]core.Date, 0, len(preds)),
		Prediction: make([]float64, 0, len(preds)),
	}
	for _, p := range preds {
		body.Date = append(body.Date, p.Date)
		body.Prediction = append(body.Prediction, p.Amount)
	}
	return body
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	preds, err := s.ledger.Forecast(r.Context())
	if errors.Is(err, core.ErrInsufficientData) {
		UnprocessableEntityError("At least two distinct expenses are needed to forecast.").Write(w)
		return
	}
	if err != nil {
		s.writeError(w, r, applog.OpForecast, err)
		return
	}

	NewResponse().NoStore().JSON(newForecastBody(preds)).Write(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	// Buffered so a failure can still produce a clean error response.
	var buf bytes.Buffer
	if err := s.ledger.ExportWorkbook(r.Context(), &buf); err != nil {
		s.writeError(w, r, applog.OpExport, err)
		return
	}

	filename := "expenses_" + time.Now().Format("20060102") + ".xlsx"
	NewResponse().
		Header("Content-Type", export.ContentType).
		Header("Content-Disposition", `attachment; filename="`+filename+`"`).
		NoStore().
		Body(buf.Bytes()).
		Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().NoStore().JSON(map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ledger.Ready(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
		ServiceUnavailableError("storage not ready").Write(w)
		return
	}
	NewResponse().NoStore().JSON(map[string]string{"status": "ready"}).Write(w)
}

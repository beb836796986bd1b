package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Status(http.StatusOK).
		BodyString("test").
		Write(w)

	if w.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "test" {
		t.Errorf("Body = %q, want %q", w.Body.String(), "test")
	}
}

func TestResponseBuilder_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Header("X-Custom", "value").
		NoStore().
		Write(w)

	if got := w.Header().Get("X-Custom"); got != "value" {
		t.Errorf("X-Custom = %q, want %q", got, "value")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestResponseBuilder_JSON(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		JSON(map[string][]int{"values": {1, 2}}).
		Write(w)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != `{"values":[1,2]}` {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestResponseBuilder_JSONEncodingFailure(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		JSON(map[string]any{"bad": make(chan int)}).
		Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Internal server error") {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		builder    *ResponseBuilder
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bad request",
			builder:    BadRequestError("Invalid filter"),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid filter"}`,
		},
		{
			name:       "not found",
			builder:    NotFoundError("No data available for chart."),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"No data available for chart."}`,
		},
		{
			name:       "unprocessable",
			builder:    UnprocessableEntityError("Not enough data"),
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"error":"Not enough data"}`,
		},
		{
			name:       "internal",
			builder:    InternalServerError("Internal server error"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Internal server error"}`,
		},
		{
			name:       "unavailable",
			builder:    ServiceUnavailableError("Storage unavailable"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Storage unavailable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServiceUnavailableSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	ServiceUnavailableError("busy").Write(w)

	if got := w.Header().Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q, want 5", got)
	}
}

func TestHTMLErrorResponse_EscapesHTML(t *testing.T) {
	w := httptest.NewRecorder()

	HTMLErrorResponse(http.StatusBadRequest, "<script>alert('xss')</script>").Write(w)

	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("HTML should be escaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("Expected escaped HTML, got: %s", body)
	}
}

package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nihonselect/api/internal/platform/requestctx"
)

// Error is an API failure rendered as {"error": code, "message", "status", "request_id",
// "trace_id", "details"}. It satisfies error so handlers can return it through service layers.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	// RetryAfter, when set, is sent as a Retry-After header in whole seconds.
	RetryAfter time.Duration
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithDetails attaches a copy of details.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

type errorEnvelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteError renders err, stamping the request and trace ids found in ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RetryAfter > 0 {
		secs := int((err.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteJSON(w, err.Status, errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: clip(middleware.GetReqID(ctx), 80),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
		Details:   err.Details,
	})
}

// clip flattens line breaks and truncates to limit bytes without splitting a rune.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}

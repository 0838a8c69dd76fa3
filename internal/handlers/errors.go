package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/platform/requestctx"
	"github.com/nihonselect/api/internal/services"
)

// writeServiceError maps service error kinds onto the JSON error envelope. The message of a 4xx
// carries the service detail; 5xx responses stay generic and the cause is logged instead.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var httpErr httpx.Error
	if errors.As(err, &httpErr) {
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	var (
		code   string
		status int
	)
	switch {
	case errors.Is(err, services.ErrInvalidTransition):
		code, status = "invalid_transition", http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		code, status = "invalid_request", http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		code, status = "conflict", http.StatusConflict
	case errors.Is(err, services.ErrForbidden):
		code, status = "forbidden", http.StatusForbidden
	case errors.Is(err, services.ErrUnavailable):
		code, status = "dependency_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, services.ErrExternalService):
		code, status = "external_service_error", http.StatusBadGateway
	case errors.Is(err, services.ErrConfiguration):
		code, status = "not_configured", http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code, status = "timeout", http.StatusGatewayTimeout
	default:
		code, status = "internal_error", http.StatusInternalServerError
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
		message = http.StatusText(status)
		if status == http.StatusBadGateway || status == http.StatusServiceUnavailable {
			message = leadingMessage(err)
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// leadingMessage keeps the sentinel text of a wrapped error ("order: payment processor error")
// and drops the processor detail that follows it.
func leadingMessage(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		if next := strings.Index(msg[idx+2:], ": "); next >= 0 {
			return msg[:idx+2+next]
		}
	}
	return msg
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func errInvalidParam(message string) error {
	return httpx.NewError("invalid_request", message, http.StatusBadRequest)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/platform/requestctx"
)

const (
	defaultCleanupBatch = 500
	maxCleanupBatch     = 5000
)

// IdempotencyCleaner removes expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalJobHandlers serves endpoints invoked by Cloud Scheduler with an OIDC identity.
type InternalJobHandlers struct {
	cleaner IdempotencyCleaner
	now     func() time.Time
}

// NewInternalJobHandlers constructs the internal job handlers.
func NewInternalJobHandlers(cleaner IdempotencyCleaner) *InternalJobHandlers {
	return &InternalJobHandlers{cleaner: cleaner, now: time.Now}
}

// Routes registers /internal/jobs endpoints.
func (h *InternalJobHandlers) Routes(r chi.Router) {
	r.Post("/jobs/idempotency-cleanup", h.cleanupIdempotency)
}

type cleanupPayload struct {
	Deleted int    `json:"deleted"`
	Limit   int    `json:"limit"`
	RanAt   string `json:"ran_at"`
}

func (h *InternalJobHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_configured", "idempotency store not configured", http.StatusServiceUnavailable))
		return
	}

	limit := defaultCleanupBatch
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(ctx, w, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxCleanupBatch)
	}

	now := h.now().UTC()
	deleted, err := h.cleaner.CleanupExpired(ctx, now, limit)
	if err != nil {
		requestctx.Logger(ctx).Error("idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusInternalServerError))
		return
	}

	logger := requestctx.Logger(ctx).With(zap.Int("deleted", deleted), zap.Int("limit", limit))
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		logger = logger.With(zap.String("caller", caller.Email))
	}
	logger.Info("idempotency cleanup completed")

	httpx.WriteJSON(w, http.StatusOK, cleanupPayload{Deleted: deleted, Limit: limit, RanAt: formatTime(now)})
}

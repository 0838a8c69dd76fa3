package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nihonselect/api/internal/platform/auth"
)

type stubCleaner struct {
	limit int
	now   time.Time
}

func (s *stubCleaner) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.now, s.limit = now, limit
	return 7, nil
}

func TestNewRouterMounts(t *testing.T) {
	catalog := &stubCatalogService{}
	cleaner := &stubCleaner{}
	requireService := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer scheduler" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			ctx := auth.WithServiceIdentity(r.Context(), &auth.ServiceIdentity{Email: "scheduler@example.iam.gserviceaccount.com"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	router := NewRouter(
		WithStorefrontRoutes(NewProductHandlers(catalog).Routes),
		WithInternalRoutes(NewInternalJobHandlers(cleaner).Routes),
		WithInternalMiddlewares(requireService),
	)

	cases := []struct {
		name   string
		method string
		path   string
		header string
		status int
	}{
		{name: "healthz", method: http.MethodGet, path: "/healthz", status: http.StatusOK},
		{name: "readyz without prober", method: http.MethodGet, path: "/readyz", status: http.StatusOK},
		{name: "products", method: http.MethodGet, path: "/api/v1/products", status: http.StatusOK},
		{name: "admin not mounted", method: http.MethodGet, path: "/api/v1/admin/orders", status: http.StatusNotImplemented},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/nope", status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodDelete, path: "/api/v1/products", status: http.StatusMethodNotAllowed},
		{name: "internal requires identity", method: http.MethodPost, path: "/api/v1/internal/jobs/idempotency-cleanup", status: http.StatusUnauthorized},
		{name: "internal cleanup", method: http.MethodPost, path: "/api/v1/internal/jobs/idempotency-cleanup?limit=99999", header: "Bearer scheduler", status: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}

	if cleaner.limit != maxCleanupBatch {
		t.Fatalf("expected limit clamped to %d, got %d", maxCleanupBatch, cleaner.limit)
	}
}

func TestInternalCleanupRejectsBadLimit(t *testing.T) {
	r := chi.NewRouter()
	NewInternalJobHandlers(&stubCleaner{}).Routes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/idempotency-cleanup?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/idempotency-cleanup", nil))
	var body cleanupPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Deleted != 7 || body.Limit != defaultCleanupBatch {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestNewRouterAdminMiddlewaresStayInAdminGroup(t *testing.T) {
	router := NewRouter(
		WithStorefrontRoutes(NewProductHandlers(&stubCatalogService{}).Routes),
		WithAdminRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
		WithAdminMiddlewares(middleware.NoCache),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/ping", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); !strings.Contains(got, "no-cache") {
		t.Fatalf("expected admin response to disable caching, got %q", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	if got := rr.Header().Get("Cache-Control"); strings.Contains(got, "no-cache") {
		t.Fatalf("storefront responses must not inherit admin middleware, got %q", got)
	}
}

func TestNewRouterCORS(t *testing.T) {
	router := NewRouter(
		WithAllowedOrigins("https://shop.example.jp"),
		WithStorefrontRoutes(NewProductHandlers(&stubCatalogService{}).Routes),
	)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://shop.example.jp")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.jp" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS grant for unknown origin, got %q", got)
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			PaymentMode: "live",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK || body["uptime"] != "30s" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["commitSha"] != "abc123" || body["paymentMode"] != "live" {
		t.Fatalf("expected build metadata, got %v", body)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name   string
		svc    *stubSystemService
		status int
	}{
		{
			name: "ok",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks:      map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond}},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded cache stays ready",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusDegraded,
				GeneratedAt: now,
				Checks:      map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusDegraded, Error: "dial tcp: refused"}},
			}},
			status: http.StatusOK,
		},
		{
			name: "firestore down",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusError,
				GeneratedAt: now,
				Checks:      map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError}},
			}},
			status: http.StatusServiceUnavailable,
		},
		{name: "probe error", svc: &stubSystemService{err: errors.New("boom")}, status: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthSystemService(tc.svc), WithHealthClock(func() time.Time { return now }))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

package observability

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nihonselect/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/12345;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if got := sc.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", got)
	}
	spanID := sc.SpanID()
	if binary.BigEndian.Uint64(spanID[:]) != 12345 {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/12345;o=1" {
		t.Fatalf("unexpected round trip %q", got)
	}

	for _, header := range []string{"", "nope", "zz/1;o=1", "105445aa7843bc8bf206b12000100000/abc", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareAdoptsCloudTraceHeader(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("nihon-select")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/12345;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected remote trace id to propagate, got %q", info.TraceID)
	}
	if info.ProjectID != "nihon-select" {
		t.Fatalf("expected project id, got %q", info.ProjectID)
	}
	if rec.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected trace header echoed")
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(RequestLoggerMiddleware(zap.New(core), "nihon-select"))
	router.Use(RecoveryMiddleware(nil))
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("handler ran")
		w.WriteHeader(http.StatusNotFound)
	})
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("handler ran").AllUntimed()
	if len(entries) != 1 || entries[0].ContextMap()["request_id"] == "" {
		t.Fatalf("expected handler log to carry request fields, got %+v", entries)
	}
	completed := logs.FilterMessage("request completed").AllUntimed()
	if len(completed) != 1 {
		t.Fatalf("expected one completion line, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if completed[0].Level != zapcore.WarnLevel || fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected warn with 404, got %s %v", completed[0].Level, fields)
	}
	if fields["route"] != "/orders/{orderID}" || fields["remote_ip"] != "203.0.113.7" {
		t.Fatalf("unexpected fields %v", fields)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

package di

import (
	"context"
	"testing"
	"time"

	"github.com/nihonselect/api/internal/payments"
	"github.com/nihonselect/api/internal/platform/config"
	"github.com/nihonselect/api/internal/repositories"
)

type (
	stubOrders   struct{ repositories.OrderRepository }
	stubProducts struct{ repositories.ProductRepository }
	stubAdmins   struct {
		repositories.AdminUserRepository
	}
	stubHealth struct{ repositories.HealthRepository }
)

type stubRegistry struct {
	closed bool
}

func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}
func (r *stubRegistry) Orders() repositories.OrderRepository         { return stubOrders{} }
func (r *stubRegistry) Products() repositories.ProductRepository     { return stubProducts{} }
func (r *stubRegistry) AdminUsers() repositories.AdminUserRepository { return stubAdmins{} }
func (r *stubRegistry) Health() repositories.HealthRepository        { return stubHealth{} }
func (r *stubRegistry) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func TestNewContainerBuildsEveryService(t *testing.T) {
	reg := &stubRegistry{}
	cfg := config.Config{}
	cfg.Payments.AuthorizationPolicy = "original_subtotal"
	cfg.Reporting.TimeZone = "UTC"

	container, err := NewContainer(cfg, reg, Adapters{Gateway: payments.NewDemoGateway()})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	svc := container.Services
	if svc.Catalog == nil || svc.Checkout == nil || svc.Orders == nil || svc.Profit == nil || svc.Admins == nil || svc.System == nil {
		t.Fatalf("expected every service to be built, got %+v", svc)
	}
	if container.ReportingLocation != time.UTC {
		t.Fatalf("expected UTC reporting location, got %v", container.ReportingLocation)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}
}

func TestNewContainerRejectsBadInputs(t *testing.T) {
	gateway := payments.NewDemoGateway()

	if _, err := NewContainer(config.Config{}, nil, Adapters{Gateway: gateway}); err == nil {
		t.Fatalf("expected error without registry")
	}
	if _, err := NewContainer(config.Config{}, &stubRegistry{}, Adapters{}); err == nil {
		t.Fatalf("expected error without gateway")
	}

	cfg := config.Config{}
	cfg.Payments.AuthorizationPolicy = "whole_cart"
	if _, err := NewContainer(cfg, &stubRegistry{}, Adapters{Gateway: gateway}); err == nil {
		t.Fatalf("expected error for unknown policy")
	}

	cfg = config.Config{}
	cfg.Reporting.TimeZone = "Mars/Olympus"
	if _, err := NewContainer(cfg, &stubRegistry{}, Adapters{Gateway: gateway}); err == nil {
		t.Fatalf("expected error for unknown time zone")
	}
}

func TestNewContainerDefaultsReportingToTokyo(t *testing.T) {
	container, err := NewContainer(config.Config{}, &stubRegistry{}, Adapters{Gateway: payments.NewDemoGateway()})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if got := container.ReportingLocation.String(); got != "Asia/Tokyo" {
		t.Fatalf("expected Asia/Tokyo, got %s", got)
	}
}

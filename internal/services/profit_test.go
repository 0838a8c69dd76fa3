package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
)

func realizedOrder(id string, createdAt time.Time, total int64, cost int64) domain.Order {
	return domain.Order{
		ID:            id,
		Items:         []domain.LineItem{{ProductID: "prd", OriginalPrice: cost, Quantity: 1}},
		Total:         total,
		PaymentStatus: domain.PaymentStatusCaptured,
		OrderStatus:   domain.OrderStatusDelivered,
		CreatedAt:     createdAt,
		Version:       5,
	}
}

func TestSummarizeProfitMath(t *testing.T) {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 30, 23, 59, 59, 0, time.UTC)
	orders := []domain.Order{
		realizedOrder("a", start.Add(time.Hour), 1200, 800),
		realizedOrder("b", start.Add(48*time.Hour), 600, 500),
	}

	summary := SummarizeProfit(orders, start, end)
	if summary.TotalRevenue != 1800 || summary.TotalCost != 1300 || summary.TotalProfit != 500 {
		t.Fatalf("unexpected totals %+v", summary)
	}
	if summary.TotalOrders != 2 || summary.AverageOrderValue != 900 {
		t.Fatalf("unexpected count or average %+v", summary)
	}
	if summary.ProfitMargin != 27.78 {
		t.Fatalf("expected margin 27.78, got %v", summary.ProfitMargin)
	}
}

func TestSummarizeProfitExcludesUnrealizedOrders(t *testing.T) {
	at := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	shipped := realizedOrder("shipped", at, 5000, 100)
	shipped.OrderStatus = domain.OrderStatusShipped
	authorized := realizedOrder("authorized", at, 5000, 100)
	authorized.PaymentStatus = domain.PaymentStatusAuthorized

	summary := SummarizeProfit([]domain.Order{shipped, authorized}, at.Add(-time.Hour), at.Add(time.Hour))
	if summary.TotalRevenue != 0 || summary.TotalCost != 0 || summary.TotalOrders != 0 {
		t.Fatalf("expected unrealized orders to contribute nothing, got %+v", summary)
	}
	if summary.ProfitMargin != 0 || summary.AverageOrderValue != 0 {
		t.Fatalf("expected zero ratios without orders, got %+v", summary)
	}
}

func TestAggregateProfitBucketsInLocalTime(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	orders := []domain.Order{
		// 2025-03-31 16:00 UTC is 2025-04-01 01:00 in Tokyo.
		realizedOrder("a", time.Date(2025, 3, 31, 16, 0, 0, 0, time.UTC), 1200, 800),
		realizedOrder("b", time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC), 600, 500),
		realizedOrder("c", time.Date(2025, 3, 30, 3, 0, 0, 0, time.UTC), 300, 200),
	}

	daily := AggregateProfit(orders, domain.ProfitByDay, tokyo)
	if len(daily) != 2 {
		t.Fatalf("expected two daily buckets, got %+v", daily)
	}
	if daily[0].Period != "2025-03-30" || daily[1].Period != "2025-04-01" {
		t.Fatalf("unexpected periods %q %q", daily[0].Period, daily[1].Period)
	}
	if daily[1].TotalRevenue != 1800 || daily[1].OrderCount != 2 || daily[1].AverageOrderValue != 900 || daily[1].TotalProfit != 500 {
		t.Fatalf("unexpected bucket %+v", daily[1])
	}

	// 2025-03-30 is a Sunday; 2025-03-31 and 2025-04-01 fall in the week starting Monday 2025-03-31.
	weekly := AggregateProfit(orders, domain.ProfitByWeek, tokyo)
	if len(weekly) != 2 || weekly[0].Period != "2025-03-24" || weekly[1].Period != "2025-03-31" {
		t.Fatalf("unexpected weekly buckets %+v", weekly)
	}

	monthly := AggregateProfit(orders, domain.ProfitByMonth, tokyo)
	if len(monthly) != 2 || monthly[0].Period != "2025-03" || monthly[1].Period != "2025-04" {
		t.Fatalf("unexpected monthly buckets %+v", monthly)
	}
	if monthly[1].OrderCount != 2 {
		t.Fatalf("expected April to hold both Tokyo-dated orders, got %+v", monthly[1])
	}
}

func TestProfitServiceUsesInclusiveRange(t *testing.T) {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		realizedOrder("first", start, 1000, 500),
		realizedOrder("last", end, 1000, 500),
		realizedOrder("after", end.Add(time.Nanosecond), 1000, 500),
	)
	svc, err := NewProfitService(ProfitServiceDeps{Orders: repo, Location: time.UTC})
	if err != nil {
		t.Fatalf("NewProfitService: %v", err)
	}

	summary, err := svc.Summary(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalOrders != 2 || summary.TotalRevenue != 2000 || summary.ProfitMargin != 50 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	series, err := svc.Timeseries(context.Background(), ProfitQuery{Start: start, End: end})
	if err != nil {
		t.Fatalf("Timeseries: %v", err)
	}
	if len(series) != 2 || series[0].Period != "2025-04-01" {
		t.Fatalf("expected daily default buckets, got %+v", series)
	}
}

func TestProfitServiceValidatesQuery(t *testing.T) {
	svc, err := NewProfitService(ProfitServiceDeps{Orders: newMemOrderRepo(), Location: time.UTC})
	if err != nil {
		t.Fatalf("NewProfitService: %v", err)
	}
	start := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Second)

	if _, err := svc.Summary(context.Background(), start, end); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}
	if _, err := svc.Timeseries(context.Background(), ProfitQuery{Start: end, End: start, Granularity: "year"}); !errors.Is(err, ErrProfitInvalidInput) {
		t.Fatalf("expected unknown granularity to be rejected, got %v", err)
	}
	if _, err := svc.Summary(context.Background(), time.Time{}, start); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing start to be rejected, got %v", err)
	}
}

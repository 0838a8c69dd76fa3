package services

import (
	"sort"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/pricing"
)

// AggregateProfit buckets realized orders by the calendar period of their creation time in loc.
// Orders that are not both captured and delivered are skipped. Buckets are returned oldest first.
func AggregateProfit(orders []Order, granularity domain.ProfitGranularity, loc *time.Location) []ProfitData {
	if loc == nil {
		loc = time.UTC
	}

	type bucket struct {
		start   time.Time
		revenue int64
		cost    int64
		count   int
	}
	buckets := make(map[string]*bucket)
	for _, order := range orders {
		if !order.IsRealized() {
			continue
		}
		label, start := profitPeriod(order.CreatedAt.In(loc), granularity)
		b, ok := buckets[label]
		if !ok {
			b = &bucket{start: start}
			buckets[label] = b
		}
		b.revenue += order.Total
		b.cost += order.ItemsCost()
		b.count++
	}

	out := make([]ProfitData, 0, len(buckets))
	for label, b := range buckets {
		out = append(out, ProfitData{
			Period:            label,
			PeriodStart:       b.start,
			TotalRevenue:      b.revenue,
			TotalCost:         b.cost,
			TotalProfit:       b.revenue - b.cost,
			OrderCount:        b.count,
			AverageOrderValue: pricing.Average(b.revenue, b.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out
}

// SummarizeProfit collapses the realized orders into a single figure set for [start, end].
func SummarizeProfit(orders []Order, start, end time.Time) ProfitSummary {
	summary := ProfitSummary{Start: start, End: end}
	for _, order := range orders {
		if !order.IsRealized() {
			continue
		}
		summary.TotalRevenue += order.Total
		summary.TotalCost += order.ItemsCost()
		summary.TotalOrders++
	}
	summary.TotalProfit = summary.TotalRevenue - summary.TotalCost
	summary.AverageOrderValue = pricing.Average(summary.TotalRevenue, summary.TotalOrders)
	summary.ProfitMargin = pricing.Percentage(summary.TotalProfit, summary.TotalRevenue)
	return summary
}

func profitPeriod(at time.Time, granularity domain.ProfitGranularity) (string, time.Time) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	switch granularity {
	case domain.ProfitByWeek:
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		monday := day.AddDate(0, 0, -offset)
		return monday.Format("2006-01-02"), monday
	case domain.ProfitByMonth:
		first := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
		return first.Format("2006-01"), first
	default:
		return day.Format("2006-01-02"), day
	}
}

package domain

import (
	"strings"
	"time"
)

// ProfitGranularity selects the bucket width for profit timeseries.
type ProfitGranularity string

const (
	ProfitByDay   ProfitGranularity = "day"
	ProfitByWeek  ProfitGranularity = "week"
	ProfitByMonth ProfitGranularity = "month"
)

// ProfitData is one time bucket of realized revenue and cost.
type ProfitData struct {
	Period            string
	PeriodStart       time.Time
	TotalRevenue      int64
	TotalCost         int64
	TotalProfit       int64
	OrderCount        int
	AverageOrderValue float64
}

// ProfitSummary collapses the realized orders of a range into one figure set.
type ProfitSummary struct {
	Start             time.Time
	End               time.Time
	TotalRevenue      int64
	TotalCost         int64
	TotalProfit       int64
	TotalOrders       int
	AverageOrderValue float64
	ProfitMargin      float64
}

// ParseProfitGranularity normalises raw input; empty input selects daily buckets.
func ParseProfitGranularity(raw string) (ProfitGranularity, bool) {
	switch g := ProfitGranularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case "":
		return ProfitByDay, true
	case ProfitByDay, ProfitByWeek, ProfitByMonth:
		return g, true
	default:
		return "", false
	}
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/services"
)

type profitDataPayload struct {
	Period            string  `json:"period"`
	PeriodStart       string  `json:"period_start"`
	TotalRevenue      int64   `json:"total_revenue"`
	TotalCost         int64   `json:"total_cost"`
	TotalProfit       int64   `json:"total_profit"`
	OrderCount        int     `json:"order_count"`
	AverageOrderValue float64 `json:"average_order_value"`
}

type profitSummaryPayload struct {
	Start             string  `json:"start"`
	End               string  `json:"end"`
	TotalRevenue      int64   `json:"total_revenue"`
	TotalCost         int64   `json:"total_cost"`
	TotalProfit       int64   `json:"total_profit"`
	TotalOrders       int     `json:"total_orders"`
	AverageOrderValue float64 `json:"average_order_value"`
	ProfitMargin      float64 `json:"profit_margin"`
}

// profitRange reads start and end. Date-only bounds are local to loc and a date-only end covers
// the whole day.
func profitRange(r *http.Request, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	query := r.URL.Query()
	rawStart := strings.TrimSpace(query.Get("start"))
	rawEnd := strings.TrimSpace(query.Get("end"))
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, errInvalidParam("start and end are required")
	}
	start, err := parseTimeIn(rawStart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errInvalidParam("start must be an RFC3339 timestamp or YYYY-MM-DD date")
	}
	end, err := parseTimeIn(rawEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errInvalidParam("end must be an RFC3339 timestamp or YYYY-MM-DD date")
	}
	if len(rawEnd) == len("2006-01-02") {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return start, end, nil
}

func (h *AdminHandlers) profitTimeseries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("analytics_unavailable", "profit service unavailable", http.StatusServiceUnavailable))
		return
	}
	start, end, err := profitRange(r, h.loc)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	series, err := h.profit.Timeseries(ctx, services.ProfitQuery{
		Start:       start,
		End:         end,
		Granularity: r.URL.Query().Get("granularity"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]profitDataPayload, 0, len(series))
	for _, point := range series {
		items = append(items, profitDataPayload{
			Period:            point.Period,
			PeriodStart:       formatTime(point.PeriodStart),
			TotalRevenue:      point.TotalRevenue,
			TotalCost:         point.TotalCost,
			TotalProfit:       point.TotalProfit,
			OrderCount:        point.OrderCount,
			AverageOrderValue: point.AverageOrderValue,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminHandlers) profitSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("analytics_unavailable", "profit service unavailable", http.StatusServiceUnavailable))
		return
	}
	start, end, err := profitRange(r, h.loc)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	summary, err := h.profit.Summary(ctx, start, end)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profitSummaryPayload{
		Start:             formatTime(summary.Start),
		End:               formatTime(summary.End),
		TotalRevenue:      summary.TotalRevenue,
		TotalCost:         summary.TotalCost,
		TotalProfit:       summary.TotalProfit,
		TotalOrders:       summary.TotalOrders,
		AverageOrderValue: summary.AverageOrderValue,
		ProfitMargin:      summary.ProfitMargin,
	})
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/repositories"
)

const defaultReportingZone = "Asia/Tokyo"

// ErrProfitInvalidInput indicates an unusable reporting range or granularity.
var ErrProfitInvalidInput = newKindError(ErrValidation, "profit: invalid input")

// ProfitServiceDeps wires the dependencies required by the profit service.
type ProfitServiceDeps struct {
	Orders repositories.OrderRepository
	// Location buckets timeseries by local calendar days. Defaults to Asia/Tokyo.
	Location *time.Location
	Logger   Logger
}

type profitService struct {
	orders repositories.OrderRepository
	loc    *time.Location
	logger Logger
}

var _ ProfitService = (*profitService)(nil)

// NewProfitService constructs a ProfitService.
func NewProfitService(deps ProfitServiceDeps) (ProfitService, error) {
	if deps.Orders == nil {
		return nil, errors.New("profit service: order repository is required")
	}
	loc := deps.Location
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(defaultReportingZone)
		if err != nil {
			return nil, fmt.Errorf("profit service: load %s: %w", defaultReportingZone, err)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &profitService{orders: deps.Orders, loc: loc, logger: logger}, nil
}

func (s *profitService) Timeseries(ctx context.Context, query ProfitQuery) ([]ProfitData, error) {
	granularity, ok := domain.ParseProfitGranularity(query.Granularity)
	if !ok {
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrProfitInvalidInput, query.Granularity)
	}
	orders, err := s.load(ctx, query.Start, query.End)
	if err != nil {
		return nil, err
	}
	return AggregateProfit(orders, granularity, s.loc), nil
}

func (s *profitService) Summary(ctx context.Context, start, end time.Time) (ProfitSummary, error) {
	orders, err := s.load(ctx, start, end)
	if err != nil {
		return ProfitSummary{}, err
	}
	return SummarizeProfit(orders, start, end), nil
}

func (s *profitService) load(ctx context.Context, start, end time.Time) ([]Order, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrProfitInvalidInput)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start must not be after end", ErrProfitInvalidInput)
	}
	orders, err := s.orders.ListCreatedBetween(ctx, start, end)
	if err != nil {
		s.logger(ctx, "profit.load.failed", map[string]any{
			"start": start,
			"end":   end,
			"error": err.Error(),
		})
		return nil, translateRepositoryError(err, ErrProfitInvalidInput, ErrProfitInvalidInput)
	}
	return orders, nil
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const breakerMetricNamespace = "github.com/nihonselect/api/internal/payments"

// BreakerSettings tunes the circuit breaker placed in front of the live processor.
type BreakerSettings struct {
	Name             string
	ConsecutiveFails uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// BreakerGateway fails fast with ErrUnavailable while the processor keeps failing. It never
// retries; business rejections such as a non-capturable hold do not trip it.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[any]
}

var _ Gateway = (*BreakerGateway)(nil)

// NewBreakerGateway wraps next with a circuit breaker.
func NewBreakerGateway(next Gateway, settings BreakerSettings, logger Logger) (*BreakerGateway, error) {
	if next == nil {
		return nil, errors.New("payments: breaker requires a gateway")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	if settings.Name == "" {
		settings.Name = "payments"
	}
	if settings.ConsecutiveFails == 0 {
		settings.ConsecutiveFails = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}

	transitions, _ := otel.GetMeterProvider().Meter(breakerMetricNamespace).Int64Counter(
		"payments.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes in front of the payment processor"),
	)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := context.Background()
			logger(ctx, "payments.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			if transitions != nil {
				transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to.String())))
			}
		},
	})

	return &BreakerGateway{next: next, breaker: cb}, nil
}

// Mode implements Gateway.
func (b *BreakerGateway) Mode() Mode {
	return b.next.Mode()
}

// Authorize implements Gateway.
func (b *BreakerGateway) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	res, err := b.execute(func() (any, error) { return b.next.Authorize(ctx, req) })
	if err != nil {
		return Authorization{}, err
	}
	return res.(Authorization), nil
}

// Retrieve implements Gateway.
func (b *BreakerGateway) Retrieve(ctx context.Context, intentID string) (Intent, error) {
	res, err := b.execute(func() (any, error) { return b.next.Retrieve(ctx, intentID) })
	if err != nil {
		return Intent{}, err
	}
	return res.(Intent), nil
}

// Capture implements Gateway.
func (b *BreakerGateway) Capture(ctx context.Context, req CaptureRequest) (Capture, error) {
	res, err := b.execute(func() (any, error) { return b.next.Capture(ctx, req) })
	if err != nil {
		return Capture{}, err
	}
	return res.(Capture), nil
}

// Cancel implements Gateway.
func (b *BreakerGateway) Cancel(ctx context.Context, intentID string) (Intent, error) {
	res, err := b.execute(func() (any, error) { return b.next.Cancel(ctx, intentID) })
	if err != nil {
		return Intent{}, err
	}
	return res.(Intent), nil
}

// Healthy reports an error while the breaker is open. A half-open breaker counts as healthy so a
// trial request can close it.
func (b *BreakerGateway) Healthy(context.Context) error {
	if state := b.breaker.State(); state == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit %s is %s", ErrUnavailable, b.breaker.Name(), state)
	}
	return nil
}

// HealthCheck returns g's breaker probe, or nil when g is not wrapped by a breaker.
func HealthCheck(g Gateway) func(context.Context) error {
	if b, ok := g.(*BreakerGateway); ok {
		return b.Healthy
	}
	return nil
}

func (b *BreakerGateway) execute(fn func() (any, error)) (any, error) {
	res, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, err
}

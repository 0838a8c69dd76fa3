package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedGateway struct {
	calls int
	err   error
}

func (s *scriptedGateway) Mode() Mode { return ModeLive }

func (s *scriptedGateway) Authorize(context.Context, AuthorizeRequest) (Authorization, error) {
	s.calls++
	return Authorization{IntentID: "pi_1"}, s.err
}

func (s *scriptedGateway) Retrieve(context.Context, string) (Intent, error) {
	s.calls++
	return Intent{ID: "pi_1"}, s.err
}

func (s *scriptedGateway) Capture(context.Context, CaptureRequest) (Capture, error) {
	s.calls++
	return Capture{IntentID: "pi_1"}, s.err
}

func (s *scriptedGateway) Cancel(context.Context, string) (Intent, error) {
	s.calls++
	return Intent{ID: "pi_1"}, s.err
}

func TestBreakerOpensAfterConsecutiveUnavailability(t *testing.T) {
	inner := &scriptedGateway{err: fmt.Errorf("%w: boom", ErrUnavailable)}
	var events []string
	gw, err := NewBreakerGateway(inner, BreakerSettings{ConsecutiveFails: 2, OpenTimeout: time.Minute}, func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	})
	if err != nil {
		t.Fatalf("NewBreakerGateway: %v", err)
	}

	ctx := context.Background()
	probe := HealthCheck(gw)
	if probe == nil || probe(ctx) != nil {
		t.Fatalf("expected healthy closed breaker")
	}
	for i := 0; i < 2; i++ {
		if _, err := gw.Retrieve(ctx, "pi_1"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected unavailable, got %v", i, err)
		}
	}
	if _, err := gw.Retrieve(ctx, "pi_1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected open breaker to fail fast, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected open breaker to skip the processor, got %d calls", inner.calls)
	}
	if err := probe(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected open breaker to report unhealthy, got %v", err)
	}
	if HealthCheck(NewDemoGateway()) != nil {
		t.Fatalf("demo gateway has no breaker probe")
	}
	if len(events) == 0 || events[0] != "payments.breaker.state_changed" {
		t.Fatalf("expected state change to be logged, got %v", events)
	}
}

func TestBreakerIgnoresBusinessRejections(t *testing.T) {
	inner := &scriptedGateway{err: fmt.Errorf("%w: already captured", ErrNotCapturable)}
	gw, err := NewBreakerGateway(inner, BreakerSettings{ConsecutiveFails: 1}, nil)
	if err != nil {
		t.Fatalf("NewBreakerGateway: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := gw.Capture(ctx, CaptureRequest{IntentID: "pi_1", Amount: 10}); !errors.Is(err, ErrNotCapturable) {
			t.Fatalf("expected not capturable, got %v", err)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("business rejections must not open the breaker, got %d calls", inner.calls)
	}

	inner.err = nil
	auth, err := gw.Authorize(ctx, AuthorizeRequest{Amount: 100})
	if err != nil || auth.IntentID != "pi_1" {
		t.Fatalf("expected pass-through authorization, got %+v %v", auth, err)
	}
	if gw.Mode() != ModeLive {
		t.Fatalf("expected breaker to report inner mode")
	}
}

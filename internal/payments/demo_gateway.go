package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

const demoIntentPrefix = "demo_pi_"

// DemoGateway simulates manual-capture holds in memory. It never contacts a processor, and every
// intent and result it produces is labelled ModeDemo.
type DemoGateway struct {
	mu      sync.Mutex
	intents map[string]Intent
	newID   func() string
	logger  Logger
}

var _ Gateway = (*DemoGateway)(nil)

// DemoGatewayOption customises the simulator.
type DemoGatewayOption func(*DemoGateway)

// WithDemoIDGenerator overrides intent ID generation, mainly for tests.
func WithDemoIDGenerator(fn func() string) DemoGatewayOption {
	return func(g *DemoGateway) {
		if fn != nil {
			g.newID = fn
		}
	}
}

// WithDemoLogger sets the logging hook.
func WithDemoLogger(logger Logger) DemoGatewayOption {
	return func(g *DemoGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewDemoGateway constructs an empty simulator.
func NewDemoGateway(opts ...DemoGatewayOption) *DemoGateway {
	g := &DemoGateway{
		intents: make(map[string]Intent),
		newID:   func() string { return ulid.Make().String() },
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// IsDemoIntent reports whether the ID was issued by the simulator.
func IsDemoIntent(intentID string) bool {
	return strings.HasPrefix(strings.TrimSpace(intentID), demoIntentPrefix)
}

// Mode implements Gateway.
func (g *DemoGateway) Mode() Mode {
	return ModeDemo
}

// Authorize records a hold that is immediately capturable, as if the shopper confirmed it.
func (g *DemoGateway) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	if err := validateAuthorize(req); err != nil {
		return Authorization{}, err
	}

	id := demoIntentPrefix + g.newID()
	intent := Intent{
		ID:               id,
		Status:           IntentRequiresCapture,
		Amount:           req.Amount,
		AmountCapturable: req.Amount,
		Currency:         "JPY",
		Mode:             ModeDemo,
	}

	g.mu.Lock()
	g.intents[id] = intent
	g.mu.Unlock()

	g.logger(ctx, "payments.demo.intent.created", map[string]any{
		"paymentIntent": id,
		"amount":        req.Amount,
	})

	return Authorization{
		IntentID:     id,
		ClientSecret: id + "_secret_demo",
		Amount:       req.Amount,
		Currency:     "JPY",
		Status:       IntentRequiresCapture,
		Mode:         ModeDemo,
	}, nil
}

// Retrieve implements Gateway.
func (g *DemoGateway) Retrieve(_ context.Context, intentID string) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[strings.TrimSpace(intentID)]
	if !ok {
		return Intent{}, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}
	return intent, nil
}

// Capture applies the same rules as the live processor: the hold must be capturable and the
// amount may not exceed it. The uncaptured remainder is released.
func (g *DemoGateway) Capture(ctx context.Context, req CaptureRequest) (Capture, error) {
	if err := validateCapture(req); err != nil {
		return Capture{}, err
	}

	g.mu.Lock()
	intent, ok := g.intents[req.IntentID]
	if !ok {
		g.mu.Unlock()
		return Capture{}, fmt.Errorf("%w: %s", ErrIntentNotFound, req.IntentID)
	}
	if !intent.Status.IsCapturable() {
		g.mu.Unlock()
		return Capture{}, fmt.Errorf("%w: status %s", ErrNotCapturable, intent.Status)
	}
	if req.Amount > intent.AmountCapturable {
		g.mu.Unlock()
		return Capture{}, fmt.Errorf("%w: %d > %d", ErrCaptureExceedsHold, req.Amount, intent.AmountCapturable)
	}
	intent.Status = IntentSucceeded
	intent.AmountReceived = req.Amount
	intent.AmountCapturable = 0
	g.intents[req.IntentID] = intent
	g.mu.Unlock()

	g.logger(ctx, "payments.demo.intent.captured", map[string]any{
		"paymentIntent":  req.IntentID,
		"amountReceived": req.Amount,
	})

	return Capture{
		IntentID:       req.IntentID,
		CapturedAmount: req.Amount,
		Status:         IntentSucceeded,
		Mode:           ModeDemo,
	}, nil
}

// Cancel voids a capturable hold.
func (g *DemoGateway) Cancel(ctx context.Context, intentID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.Join(ErrInvalidRequest, errors.New("intent id is required"))
	}

	g.mu.Lock()
	intent, ok := g.intents[intentID]
	if !ok {
		g.mu.Unlock()
		return Intent{}, fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}
	if intent.Status == IntentSucceeded || intent.Status == IntentCanceled {
		g.mu.Unlock()
		return Intent{}, fmt.Errorf("%w: status %s", ErrNotCapturable, intent.Status)
	}
	intent.Status = IntentCanceled
	intent.AmountCapturable = 0
	g.intents[intentID] = intent
	g.mu.Unlock()

	g.logger(ctx, "payments.demo.intent.cancelled", map[string]any{"paymentIntent": intentID})
	return intent, nil
}

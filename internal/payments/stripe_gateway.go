package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	SecretKey string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger

	intents stripePaymentIntentAPI
}

// StripeGateway places manual-capture holds on Stripe PaymentIntents.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	account string
	logger  Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe-backed gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" && cfg.intents == nil {
		return nil, fmt.Errorf("%w: stripe secret key is required", ErrConfiguration)
	}

	intents := cfg.intents
	if intents == nil {
		sc := client.New(key, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// Mode implements Gateway.
func (g *StripeGateway) Mode() Mode {
	return ModeLive
}

// Authorize creates a PaymentIntent with capture_method=manual so funds are only held.
func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	if err := validateAuthorize(req); err != nil {
		return Authorization{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(string(stripe.CurrencyJPY)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	params.Metadata = copyMetadata(req.Metadata)

	intent, err := g.intents.New(params)
	if err != nil {
		return Authorization{}, classifyStripeError("create payment intent", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"status":        intent.Status,
	})

	return Authorization{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       stripeIntentStatus(intent.Status),
		Mode:         ModeLive,
	}, nil
}

// Retrieve fetches the current state of a PaymentIntent.
func (g *StripeGateway) Retrieve(ctx context.Context, intentID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.Join(ErrInvalidRequest, errors.New("intent id is required"))
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, classifyStripeError("lookup payment intent", err)
	}
	return stripeIntent(intent), nil
}

// Capture captures exactly req.Amount. Stripe releases any remainder of the hold.
func (g *StripeGateway) Capture(ctx context.Context, req CaptureRequest) (Capture, error) {
	if err := validateCapture(req); err != nil {
		return Capture{}, err
	}
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}

	intent, err := g.intents.Capture(req.IntentID, params)
	if err != nil {
		return Capture{}, classifyStripeError("capture payment intent", err)
	}

	g.logger(ctx, "payments.stripe.intent.captured", map[string]any{
		"paymentIntent":  intent.ID,
		"amountReceived": intent.AmountReceived,
	})

	captured := intent.AmountReceived
	if captured == 0 {
		captured = req.Amount
	}
	return Capture{
		IntentID:       intent.ID,
		CapturedAmount: captured,
		Status:         stripeIntentStatus(intent.Status),
		Mode:           ModeLive,
	}, nil
}

// Cancel voids the hold.
func (g *StripeGateway) Cancel(ctx context.Context, intentID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.Join(ErrInvalidRequest, errors.New("intent id is required"))
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.intents.Cancel(intentID, params)
	if err != nil {
		return Intent{}, classifyStripeError("cancel payment intent", err)
	}
	g.logger(ctx, "payments.stripe.intent.cancelled", map[string]any{
		"paymentIntent": intent.ID,
	})
	return stripeIntent(intent), nil
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}
	return Intent{
		ID:               intent.ID,
		Status:           stripeIntentStatus(intent.Status),
		Amount:           intent.Amount,
		AmountCapturable: intent.AmountCapturable,
		AmountReceived:   intent.AmountReceived,
		Currency:         strings.ToUpper(string(intent.Currency)),
		Mode:             ModeLive,
	}
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return IntentRequiresPaymentMethod
	case stripe.PaymentIntentStatusRequiresConfirmation:
		return IntentRequiresConfirmation
	case stripe.PaymentIntentStatusRequiresAction:
		return IntentRequiresAction
	case stripe.PaymentIntentStatusProcessing:
		return IntentProcessing
	case stripe.PaymentIntentStatusRequiresCapture:
		return IntentRequiresCapture
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled
	default:
		return IntentStatus(status)
	}
}

func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: stripe: %s: %v", ErrUnavailable, op, err)
	}

	switch stripeErr.Code {
	case stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: stripe: %s: %s", ErrIntentNotFound, op, stripeErr.Msg)
	case stripe.ErrorCodePaymentIntentUnexpectedState:
		return fmt.Errorf("%w: stripe: %s: %s", ErrNotCapturable, op, stripeErr.Msg)
	case stripe.ErrorCodeAmountTooLarge:
		return fmt.Errorf("%w: stripe: %s: %s", ErrCaptureExceedsHold, op, stripeErr.Msg)
	}

	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.Type == stripe.ErrorTypeAPI {
		return fmt.Errorf("%w: stripe: %s: %s", ErrUnavailable, op, stripeErr.Msg)
	}
	return fmt.Errorf("%w: stripe: %s: %s (%s)", ErrProcessor, op, stripeErr.Msg, stripeErr.Code)
}

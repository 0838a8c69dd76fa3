package payments

import (
	"context"
	"errors"
	"strings"
)

// Mode labels which gateway implementation is serving requests.
type Mode string

const (
	// ModeLive moves real money through Stripe.
	ModeLive Mode = "live"
	// ModeDemo simulates holds and captures without contacting any processor.
	ModeDemo Mode = "demo"
)

// IntentStatus is the processor-neutral lifecycle of a payment intent.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// IsCapturable reports whether funds are held and can still be captured.
func (s IntentStatus) IsCapturable() bool {
	return s == IntentRequiresCapture
}

var (
	// ErrConfiguration signals an illegal or incomplete gateway configuration.
	ErrConfiguration = errors.New("payments: configuration error")
	// ErrUnavailable signals the processor could not be reached or the breaker is open.
	ErrUnavailable = errors.New("payments: processor unavailable")
	// ErrProcessor signals the processor rejected the request.
	ErrProcessor = errors.New("payments: processor rejected request")
	// ErrIntentNotFound signals the intent does not exist at the processor.
	ErrIntentNotFound = errors.New("payments: payment intent not found")
	// ErrNotCapturable signals the hold was already captured, cancelled or never confirmed.
	ErrNotCapturable = errors.New("payments: payment intent is not capturable")
	// ErrCaptureExceedsHold signals a capture amount above the held amount.
	ErrCaptureExceedsHold = errors.New("payments: capture amount exceeds held amount")
	// ErrInvalidRequest signals a malformed request detected before contacting the processor.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// AuthorizeRequest asks for a manual-capture hold. Amount is in whole yen.
type AuthorizeRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Authorization is the result of a hold request.
type Authorization struct {
	IntentID     string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       IntentStatus
	Mode         Mode
}

// Intent is a snapshot of the processor-side state of a hold.
type Intent struct {
	ID               string
	Status           IntentStatus
	Amount           int64
	AmountCapturable int64
	AmountReceived   int64
	Currency         string
	Mode             Mode
}

// CaptureRequest captures exactly Amount from a held intent.
type CaptureRequest struct {
	IntentID       string
	Amount         int64
	IdempotencyKey string
}

// Capture is the result of a successful capture.
type Capture struct {
	IntentID       string
	CapturedAmount int64
	Status         IntentStatus
	Mode           Mode
}

// Gateway is the capability every payment backend provides. Implementations never retry.
type Gateway interface {
	Mode() Mode
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Retrieve(ctx context.Context, intentID string) (Intent, error)
	Capture(ctx context.Context, req CaptureRequest) (Capture, error)
	Cancel(ctx context.Context, intentID string) (Intent, error)
}

// Logger is the structured logging hook used by gateways.
type Logger func(ctx context.Context, event string, fields map[string]any)

func validateAuthorize(req AuthorizeRequest) error {
	if req.Amount <= 0 {
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	}
	if currency := strings.TrimSpace(req.Currency); currency != "" && !strings.EqualFold(currency, "JPY") {
		return errors.Join(ErrInvalidRequest, errors.New("only JPY is supported"))
	}
	return nil
}

func validateCapture(req CaptureRequest) error {
	if strings.TrimSpace(req.IntentID) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("intent id is required"))
	}
	if req.Amount <= 0 {
		return errors.Join(ErrInvalidRequest, errors.New("capture amount must be positive"))
	}
	return nil
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/payments"
	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/platform/idempotency"
	"github.com/nihonselect/api/internal/services"
)

// CheckoutHandlers places payment holds for storefront carts. Sign-in is optional.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
	limitWindow time.Duration
	// publishableKey is echoed to the storefront for live holds only.
	publishableKey string
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps hold attempts per shopper or client address within window.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter, h.limitWindow = newWindowRateLimiter(limit, window, nil), window
	}
}

// WithCheckoutPublishableKey exposes the processor's publishable key alongside live client secrets.
func WithCheckoutPublishableKey(key string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.publishableKey = strings.TrimSpace(key)
	}
}

// NewCheckoutHandlers constructs checkout handlers. idem guards the mutation against client
// retries; nil disables it.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, idem func(http.Handler) http.Handler, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:       authn,
		checkout:    checkout,
		idempotency: idem,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalFirebaseAuth())
	}
	if h.limiter != nil {
		group = group.With(rateLimit(h.limiter, h.limitWindow))
	}
	if h.idempotency != nil {
		group = group.With(h.idempotency)
	}
	group.Post("/checkout/authorize", h.authorize)
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type authorizeCheckoutRequest struct {
	Items []checkoutItemRequest `json:"items"`
}

type lineItemPayload struct {
	ProductID     string `json:"product_id"`
	Title         string `json:"title"`
	ImageURL      string `json:"image_url,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	OriginalPrice int64  `json:"original_price"`
	Price         int64  `json:"price"`
	Quantity      int    `json:"quantity"`
}

type authorizeCheckoutResponse struct {
	PaymentIntentID     string            `json:"payment_intent_id"`
	ClientSecret        string            `json:"client_secret"`
	Mode                string            `json:"mode"`
	Currency            string            `json:"currency"`
	Items               []lineItemPayload `json:"items"`
	OriginalSubtotal    int64             `json:"original_subtotal"`
	Subtotal            int64             `json:"subtotal"`
	AuthorizedAmount    int64             `json:"authorized_amount"`
	HoldAmount          int64             `json:"hold_amount"`
	AuthorizationPolicy string            `json:"authorization_policy"`
	PublishableKey      string            `json:"publishable_key,omitempty"`
}

func (h *CheckoutHandlers) authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req authorizeCheckoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	input := services.AuthorizeCheckoutInput{
		Items:          make([]services.CartItem, 0, len(req.Items)),
		IdempotencyKey: idempotency.KeyFromContext(ctx),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, services.CartItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		input.CustomerUID = identity.UID
	}

	result, err := h.checkout.Authorize(ctx, input)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := authorizeCheckoutResponse{
		PaymentIntentID:     result.PaymentIntentID,
		ClientSecret:        result.ClientSecret,
		Mode:                string(result.Mode),
		Currency:            result.Currency,
		Items:               buildLineItemPayloads(result.Items),
		OriginalSubtotal:    result.OriginalSubtotal,
		Subtotal:            result.Subtotal,
		AuthorizedAmount:    result.AuthorizedAmount,
		HoldAmount:          result.HoldAmount,
		AuthorizationPolicy: string(result.AuthorizationPolicy),
	}
	if result.Mode == payments.ModeLive {
		resp.PublishableKey = h.publishableKey
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func buildLineItemPayloads(items []services.LineItem) []lineItemPayload {
	out := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemPayload{
			ProductID:     item.ProductID,
			Title:         item.Title,
			ImageURL:      item.ImageURL,
			SourceURL:     item.SourceURL,
			OriginalPrice: item.OriginalPrice,
			Price:         item.Price,
			Quantity:      item.Quantity,
		})
	}
	return out
}

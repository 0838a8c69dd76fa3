package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/payments"
	"github.com/nihonselect/api/internal/pricing"
	"github.com/nihonselect/api/internal/repositories"
)

const (
	maxCheckoutItems    = 50
	maxCheckoutQuantity = 99
)

var (
	// ErrCheckoutInvalidInput indicates the cart cannot be authorised as submitted.
	ErrCheckoutInvalidInput = newKindError(ErrValidation, "checkout: invalid input")
	// ErrCheckoutProductUnavailable indicates a cart line references a missing or inactive product.
	ErrCheckoutProductUnavailable = newKindError(ErrValidation, "checkout: product unavailable")
	// ErrCheckoutPaymentFailed indicates the processor refused to place the hold.
	ErrCheckoutPaymentFailed = newKindError(ErrExternalService, "checkout: payment authorization failed")
	// ErrCheckoutPaymentUnavailable indicates the processor could not be reached.
	ErrCheckoutPaymentUnavailable = newKindError(ErrUnavailable, "checkout: payment processor unavailable")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products repositories.ProductRepository
	Gateway  payments.Gateway
	// Policy must match the order service so the hold covers the recorded authorised amount.
	Policy domain.AuthorizationPolicy
	// ShippingReserve is added on top of the policy amount so the final shipping fee fits the hold.
	ShippingReserve int64
	Logger          Logger
}

type checkoutService struct {
	products repositories.ProductRepository
	gateway  payments.Gateway
	policy   domain.AuthorizationPolicy
	reserve  int64
	logger   Logger
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.ShippingReserve < 0 {
		return nil, errors.New("checkout service: shipping reserve must not be negative")
	}

	policy := deps.Policy
	if policy == "" {
		policy = domain.AuthorizeMarkedUpSubtotal
	}
	if _, ok := domain.ParseAuthorizationPolicy(string(policy)); !ok {
		return nil, fmt.Errorf("checkout service: unknown authorization policy %q", policy)
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		products: deps.Products,
		gateway:  deps.Gateway,
		policy:   policy,
		reserve:  deps.ShippingReserve,
		logger:   logger,
	}, nil
}

// Authorize reprices the cart from the catalogue and places a manual-capture hold for it.
func (s *checkoutService) Authorize(ctx context.Context, input AuthorizeCheckoutInput) (CheckoutAuthorization, error) {
	if len(input.Items) == 0 {
		return CheckoutAuthorization{}, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	if len(input.Items) > maxCheckoutItems {
		return CheckoutAuthorization{}, fmt.Errorf("%w: at most %d items are allowed", ErrCheckoutInvalidInput, maxCheckoutItems)
	}

	items, err := s.priceItems(ctx, input.Items)
	if err != nil {
		return CheckoutAuthorization{}, err
	}

	originalSubtotal, err := pricing.OriginalSubtotal(items)
	if err != nil {
		return CheckoutAuthorization{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	subtotal, err := pricing.SubtotalWithMarkup(items)
	if err != nil {
		return CheckoutAuthorization{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	authorized := subtotal
	if s.policy == domain.AuthorizeOriginalSubtotal {
		authorized = originalSubtotal
	}
	if authorized <= 0 {
		return CheckoutAuthorization{}, fmt.Errorf("%w: cart total must be positive", ErrCheckoutInvalidInput)
	}
	hold := authorized + s.reserve

	customerUID := strings.TrimSpace(input.CustomerUID)
	metadata := map[string]string{
		"authorization_policy": string(s.policy),
		"authorized_amount":    strconv.FormatInt(authorized, 10),
		"item_count":           strconv.Itoa(len(items)),
	}
	if customerUID != "" {
		metadata["customer_uid"] = customerUID
	}

	auth, err := s.gateway.Authorize(ctx, payments.AuthorizeRequest{
		Amount:         hold,
		Currency:       domain.CurrencyJPY,
		IdempotencyKey: checkoutIdempotencyKey(input.IdempotencyKey, customerUID, items),
		Metadata:       metadata,
	})
	if err != nil {
		s.logger(ctx, "checkout.authorize.failed", map[string]any{
			"amount": hold,
			"error":  err.Error(),
		})
		return CheckoutAuthorization{}, mapCheckoutGatewayError(err)
	}

	mode := auth.Mode
	if mode == "" {
		mode = s.gateway.Mode()
	}
	event := "checkout.authorize.succeeded"
	if mode == payments.ModeDemo {
		event = "checkout.authorize.demo"
	}
	s.logger(ctx, event, map[string]any{
		"paymentIntent": auth.IntentID,
		"holdAmount":    hold,
		"authorized":    authorized,
		"mode":          string(mode),
	})

	return CheckoutAuthorization{
		PaymentIntentID:     auth.IntentID,
		ClientSecret:        auth.ClientSecret,
		Mode:                mode,
		Currency:            domain.CurrencyJPY,
		Items:               items,
		OriginalSubtotal:    originalSubtotal,
		Subtotal:            subtotal,
		AuthorizedAmount:    authorized,
		HoldAmount:          hold,
		AuthorizationPolicy: s.policy,
	}, nil
}

func (s *checkoutService) priceItems(ctx context.Context, cart []CartItem) ([]LineItem, error) {
	items := make([]LineItem, 0, len(cart))
	for i, entry := range cart {
		productID := strings.TrimSpace(entry.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item %d: product id is required", ErrCheckoutInvalidInput, i)
		}
		if entry.Quantity < 1 || entry.Quantity > maxCheckoutQuantity {
			return nil, fmt.Errorf("%w: item %d: quantity must be between 1 and %d", ErrCheckoutInvalidInput, i, maxCheckoutQuantity)
		}

		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return nil, translateRepositoryError(err, fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, productID), ErrCheckoutInvalidInput)
		}
		if product.Status != domain.ProductStatusActive {
			return nil, fmt.Errorf("%w: %s is %s", ErrCheckoutProductUnavailable, productID, product.Status)
		}

		price, err := pricing.DisplayPrice(product.OriginalPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCheckoutProductUnavailable, productID, err)
		}
		item := LineItem{
			ProductID:     product.ID,
			Title:         product.Title,
			SourceURL:     product.SourceURL,
			OriginalPrice: product.OriginalPrice,
			Price:         price,
			Quantity:      entry.Quantity,
		}
		if len(product.ImageURLs) > 0 {
			item.ImageURL = product.ImageURLs[0]
		}
		items = append(items, item)
	}
	return items, nil
}

// checkoutIdempotencyKey scopes a client key to the cart contents so a reused key with a different
// cart produces a new hold instead of a processor error.
func checkoutIdempotencyKey(raw, customerUID string, items []LineItem) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s:%d:%d", item.ProductID, item.Quantity, item.OriginalPrice))
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(raw))
	h.Write([]byte{0})
	h.Write([]byte(customerUID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(lines, ",")))
	return "checkout_" + hex.EncodeToString(h.Sum(nil))[:32]
}

func mapCheckoutGatewayError(err error) error {
	switch {
	case errors.Is(err, payments.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentUnavailable, err)
	case errors.Is(err, payments.ErrInvalidRequest):
		return fmt.Errorf("%w: %w", ErrCheckoutInvalidInput, err)
	case errors.Is(err, payments.ErrConfiguration):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	default:
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentFailed, err)
	}
}

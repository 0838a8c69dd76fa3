package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/payments"
	"github.com/nihonselect/api/internal/pricing"
	"github.com/nihonselect/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventShippingFeeSet  = "order.shipping_fee_set"
	orderEventStatusChanged   = "order.status_changed"
	orderEventPaymentChanged  = "order.payment_status_changed"
	orderEventPaymentCaptured = "order.payment_captured"

	orderIDPrefix = "ord_"

	defaultOrderPageSize = 50
	maxOrderPageSize     = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = newKindError(ErrValidation, "order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = newKindError(ErrNotFound, "order: not found")
	// ErrOrderInvalidState indicates a state machine rejected the requested change.
	ErrOrderInvalidState = newKindError(ErrInvalidTransition, "order: invalid state transition")
	// ErrOrderConflict indicates the order changed since the caller read it.
	ErrOrderConflict = newKindError(ErrConflict, "order: conflict")
	// ErrOrderDuplicateIntent indicates another order already records the payment intent.
	ErrOrderDuplicateIntent = newKindError(ErrConflict, "order: payment intent already recorded")
	// ErrOrderPaymentNotCapturable indicates the processor hold was already captured, cancelled or failed.
	ErrOrderPaymentNotCapturable = newKindError(ErrExternalService, "order: payment hold is not capturable")
	// ErrOrderCaptureExceedsHold indicates the final amount is larger than the funds held.
	ErrOrderCaptureExceedsHold = newKindError(ErrExternalService, "order: capture amount exceeds held amount")
	// ErrOrderPaymentFailed indicates the processor rejected the request.
	ErrOrderPaymentFailed = newKindError(ErrExternalService, "order: payment processor error")
	// ErrOrderPaymentUnavailable indicates the processor could not be reached.
	ErrOrderPaymentUnavailable = newKindError(ErrUnavailable, "order: payment processor unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	Gateway    payments.Gateway
	UnitOfWork repositories.UnitOfWork
	Events     OrderEventPublisher
	// Policy selects the subtotal recorded as AuthorizedAmount. Defaults to the marked-up subtotal.
	Policy domain.AuthorizationPolicy
	// SkipHoldVerification disables the processor lookup performed on CreateOrder.
	SkipHoldVerification bool
	Clock                func() time.Time
	IDGenerator          func() string
	Logger               Logger
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	gateway    payments.Gateway
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	policy     domain.AuthorizationPolicy
	verifyHold bool
	clock      func() time.Time
	newID      func() string
	logger     Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	policy := deps.Policy
	if policy == "" {
		policy = domain.AuthorizeMarkedUpSubtotal
	}
	if _, ok := domain.ParseAuthorizationPolicy(string(policy)); !ok {
		return nil, fmt.Errorf("order service: unknown authorization policy %q", policy)
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		gateway:    deps.Gateway,
		unitOfWork: unit,
		events:     deps.Events,
		policy:     policy,
		verifyHold: !deps.SkipHoldVerification,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	holdConfirmed := false
	defer func() {
		if err != nil && holdConfirmed && !errors.Is(err, ErrOrderDuplicateIntent) {
			// The customer authorised before the order existed; an unrecorded hold needs a human.
			s.logger(ctx, "checkout.hold_orphaned", map[string]any{
				"paymentIntent": intentID,
				"error":         err.Error(),
			})
		}
	}()

	customer, delivery, err := normaliseContact(cmd.Customer, cmd.Delivery)
	if err != nil {
		return Order{}, err
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if intentID == "" {
		return Order{}, fmt.Errorf("%w: payment intent id is required", ErrOrderInvalidInput)
	}

	items, err := s.resolveItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}
	originalSubtotal, err := pricing.OriginalSubtotal(items)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	subtotal, err := pricing.SubtotalWithMarkup(items)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	authorized := subtotal
	if s.policy == domain.AuthorizeOriginalSubtotal {
		authorized = originalSubtotal
	}

	now := s.now()
	order = Order{
		ID:                  orderIDPrefix + s.newID(),
		CustomerUID:         strings.TrimSpace(cmd.CustomerUID),
		Customer:            customer,
		Delivery:            delivery,
		Items:               items,
		Currency:            domain.CurrencyJPY,
		OriginalSubtotal:    originalSubtotal,
		Subtotal:            subtotal,
		Total:               subtotal,
		PaymentIntentID:     intentID,
		PaymentStatus:       domain.PaymentStatusAuthorized,
		PaymentMode:         domain.PaymentMode(s.gateway.Mode()),
		AuthorizationPolicy: s.policy,
		AuthorizedAmount:    authorized,
		OrderStatus:         domain.OrderStatusConfirmed,
		NewsletterOptIn:     cmd.NewsletterOptIn,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if s.verifyHold {
		intent, err := s.gateway.Retrieve(ctx, intentID)
		if err != nil {
			if errors.Is(err, payments.ErrIntentNotFound) {
				return Order{}, fmt.Errorf("%w: payment intent %s does not exist", ErrOrderInvalidInput, intentID)
			}
			return Order{}, mapGatewayError(err)
		}
		if !intent.Status.IsCapturable() {
			return Order{}, fmt.Errorf("%w: payment intent is %s, not authorised", ErrOrderInvalidInput, intent.Status)
		}
		if intent.Amount < authorized {
			return Order{}, fmt.Errorf("%w: held amount %d is below the authorised amount %d", ErrOrderInvalidInput, intent.Amount, authorized)
		}
		order.HoldAmount = intent.Amount
		if intent.Mode != "" {
			order.PaymentMode = domain.PaymentMode(intent.Mode)
		}
	}
	holdConfirmed = true

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.orders.FindByPaymentIntentID(txCtx, intentID)
		if err == nil {
			return fmt.Errorf("%w: payment intent %s is already recorded on order %s", ErrOrderDuplicateIntent, intentID, existing.ID)
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return translateRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		return translateRepositoryError(s.orders.Insert(txCtx, order), ErrOrderNotFound, ErrOrderConflict)
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		Version:       order.Version,
		CurrentStatus: string(order.OrderStatus),
		OccurredAt:    now,
		Metadata: map[string]any{
			"newsletterOptIn": order.NewsletterOptIn,
			"email":           order.Customer.Email,
			"total":           order.Total,
			"paymentMode":     string(order.PaymentMode),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		CreatedAfter:  filter.CreatedAfter,
		CreatedBefore: filter.CreatedBefore,
		Pagination:    filter.Pagination,
	}
	for _, raw := range filter.Status {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, raw)
		}
		repoFilter.Status = append(repoFilter.Status, string(status))
	}
	for _, raw := range filter.PaymentStatus {
		status, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, raw)
		}
		repoFilter.PaymentStatus = append(repoFilter.PaymentStatus, string(status))
	}
	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && filter.CreatedAfter.After(*filter.CreatedBefore) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: created_after must not be later than created_before", ErrOrderInvalidInput)
	}
	switch size := repoFilter.Pagination.PageSize; {
	case size <= 0:
		repoFilter.Pagination.PageSize = defaultOrderPageSize
	case size > maxOrderPageSize:
		repoFilter.Pagination.PageSize = maxOrderPageSize
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, translateRepositoryError(err, ErrOrderNotFound, ErrOrderInvalidInput)
	}
	return page, nil
}

func (s *orderService) SetShippingFee(ctx context.Context, cmd SetShippingFeeCommand) (Order, error) {
	if cmd.Fee < 0 {
		return Order{}, fmt.Errorf("%w: shipping fee must not be negative", ErrOrderInvalidInput)
	}

	order, err := s.mutate(ctx, cmd.OrderID, cmd.ExpectedVersion, func(order *Order, _ time.Time) error {
		if order.PaymentStatus.IsTerminal() {
			return fmt.Errorf("%w: shipping fee cannot change once payment is %s", ErrOrderInvalidState, order.PaymentStatus)
		}
		if order.OrderStatus == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is cancelled", ErrOrderInvalidState)
		}
		fee := cmd.Fee
		order.ShippingFee = &fee
		order.Total = order.Subtotal + fee
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventShippingFeeSet,
		OrderID:    order.ID,
		Version:    order.Version,
		OccurredAt: order.UpdatedAt,
		Metadata: map[string]any{
			"shippingFee": cmd.Fee,
			"total":       order.Total,
		},
	})
	return order, nil
}

func (s *orderService) SetOrderStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, cmd.Status)
	}
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	carrier := strings.TrimSpace(cmd.ShippingCarrier)
	if (tracking != "" || carrier != "") && target != domain.OrderStatusShipped {
		return Order{}, fmt.Errorf("%w: tracking details are only accepted when shipping", ErrOrderInvalidInput)
	}

	var previous domain.OrderStatus
	order, err := s.mutate(ctx, cmd.OrderID, cmd.ExpectedVersion, func(order *Order, now time.Time) error {
		previous = order.OrderStatus
		if !previous.CanTransitionTo(target) {
			return fmt.Errorf("%w: %w", ErrOrderInvalidState, &domain.TransitionError{Machine: "order", From: string(previous), To: string(target)})
		}
		order.OrderStatus = target
		switch target {
		case domain.OrderStatusShipped:
			order.ShippedAt = &now
			if tracking != "" {
				order.TrackingNumber = tracking
			}
			if carrier != "" {
				order.ShippingCarrier = carrier
			}
		case domain.OrderStatusDelivered:
			order.DeliveredAt = &now
		case domain.OrderStatusCancelled:
			order.CancelledAt = &now
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if tracking != "" {
		metadata["trackingNumber"] = tracking
	}
	if carrier != "" {
		metadata["shippingCarrier"] = carrier
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		Version:        order.Version,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.OrderStatus),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) SetPaymentStatus(ctx context.Context, cmd SetPaymentStatusCommand) (Order, error) {
	target, ok := domain.ParsePaymentStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.Status)
	}
	if target == domain.PaymentStatusCaptured {
		return Order{}, fmt.Errorf("%w: payments are captured through the capture operation", ErrOrderInvalidState)
	}

	current, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	if !current.PaymentStatus.CanTransitionTo(target) {
		return Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidState, &domain.TransitionError{Machine: "payment", From: string(current.PaymentStatus), To: string(target)})
	}

	// Void the hold before recording it; a processor failure leaves the order untouched.
	if target == domain.PaymentStatusCancelled && current.PaymentStatus == domain.PaymentStatusAuthorized && current.PaymentIntentID != "" {
		if _, err := s.gateway.Cancel(ctx, current.PaymentIntentID); err != nil {
			s.logger(ctx, "orders.payment.cancel_failed", map[string]any{
				"order":         current.ID,
				"paymentIntent": current.PaymentIntentID,
				"error":         err.Error(),
			})
			return Order{}, mapGatewayError(err)
		}
	}

	reason := strings.TrimSpace(cmd.Reason)
	previous := current.PaymentStatus
	order, err := s.mutate(ctx, current.ID, current.Version, func(order *Order, _ time.Time) error {
		if !order.PaymentStatus.CanTransitionTo(target) {
			return fmt.Errorf("%w: %w", ErrOrderInvalidState, &domain.TransitionError{Machine: "payment", From: string(order.PaymentStatus), To: string(target)})
		}
		order.PaymentStatus = target
		if target == domain.PaymentStatusFailed && reason != "" {
			order.PaymentFailure = reason
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentChanged,
		OrderID:        order.ID,
		Version:        order.Version,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.PaymentStatus),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) CapturePayment(ctx context.Context, cmd CapturePaymentCommand) (Order, error) {
	current, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	if current.ShippingFee == nil {
		return Order{}, fmt.Errorf("%w: shipping fee must be set before capture", ErrOrderInvalidState)
	}
	return s.captureHold(ctx, current, *current.ShippingFee, cmd.IdempotencyKey)
}

func (s *orderService) CaptureByIntent(ctx context.Context, intentID string, shippingFee int64) (Order, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Order{}, fmt.Errorf("%w: payment intent id is required", ErrOrderInvalidInput)
	}
	if shippingFee < 0 {
		return Order{}, fmt.Errorf("%w: shipping fee must not be negative", ErrOrderInvalidInput)
	}
	current, err := s.orders.FindByPaymentIntentID(ctx, intentID)
	if err != nil {
		return Order{}, translateRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return s.captureHold(ctx, current, shippingFee, "")
}

// captureHold settles the hold for AuthorizedAmount+fee. Nothing is written until the processor
// has accepted the capture; the fee, total and payment status then land in a single update.
func (s *orderService) captureHold(ctx context.Context, current Order, fee int64, idempotencyKey string) (Order, error) {
	if current.PaymentStatus != domain.PaymentStatusAuthorized {
		return Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidState, &domain.TransitionError{Machine: "payment", From: string(current.PaymentStatus), To: string(domain.PaymentStatusCaptured)})
	}
	if current.OrderStatus == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order is cancelled", ErrOrderInvalidState)
	}
	if current.PaymentIntentID == "" {
		return Order{}, fmt.Errorf("%w: order has no payment intent", ErrOrderInvalidState)
	}

	intent, err := s.gateway.Retrieve(ctx, current.PaymentIntentID)
	if err != nil {
		return Order{}, mapGatewayError(err)
	}
	if !intent.Status.IsCapturable() {
		return Order{}, fmt.Errorf("%w: processor reports %s", ErrOrderPaymentNotCapturable, intent.Status)
	}

	amount := current.AuthorizedAmount + fee
	held := intent.AmountCapturable
	if held <= 0 {
		held = intent.Amount
	}
	if amount > held {
		return Order{}, fmt.Errorf("%w: %d requested, %d held", ErrOrderCaptureExceedsHold, amount, held)
	}

	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = fmt.Sprintf("capture-%s-v%d", current.ID, current.Version)
	}
	capture, err := s.gateway.Capture(ctx, payments.CaptureRequest{
		IntentID:       current.PaymentIntentID,
		Amount:         amount,
		IdempotencyKey: key,
	})
	if err != nil {
		s.logger(ctx, "orders.capture.failed", map[string]any{
			"order":         current.ID,
			"paymentIntent": current.PaymentIntentID,
			"amount":        amount,
			"error":         err.Error(),
		})
		return Order{}, mapGatewayError(err)
	}

	captured := capture.CapturedAmount
	if captured == 0 {
		captured = amount
	}
	feeChanged := current.ShippingFee == nil || *current.ShippingFee != fee
	order, err := s.mutate(ctx, current.ID, current.Version, func(order *Order, now time.Time) error {
		order.ShippingFee = &fee
		order.Total = order.Subtotal + fee
		order.CapturedAmount = &captured
		order.PaymentStatus = domain.PaymentStatusCaptured
		order.CapturedAt = &now
		return nil
	})
	if err != nil {
		// Funds moved but the record did not; this drift is reconciled by an operator.
		s.logger(ctx, "orders.capture.persist_failed", map[string]any{
			"order":          current.ID,
			"paymentIntent":  current.PaymentIntentID,
			"shippingFee":    fee,
			"capturedAmount": captured,
			"error":          err.Error(),
		})
		return Order{}, err
	}

	s.logger(ctx, "orders.capture.succeeded", map[string]any{
		"order":          order.ID,
		"capturedAmount": captured,
		"mode":           string(order.PaymentMode),
	})
	if feeChanged {
		s.publishEvent(ctx, OrderEvent{
			Type:       orderEventShippingFeeSet,
			OrderID:    order.ID,
			Version:    order.Version,
			OccurredAt: order.UpdatedAt,
			Metadata: map[string]any{
				"shippingFee": fee,
				"total":       order.Total,
			},
		})
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentCaptured,
		OrderID:        order.ID,
		Version:        order.Version,
		PreviousStatus: string(domain.PaymentStatusAuthorized),
		CurrentStatus:  string(order.PaymentStatus),
		OccurredAt:     order.UpdatedAt,
		Metadata: map[string]any{
			"capturedAmount": captured,
			"paymentMode":    string(order.PaymentMode),
		},
	})
	return order, nil
}

// load reads an order outside a transaction and applies the optional version check.
func (s *orderService) load(ctx context.Context, orderID string, expectedVersion int64) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if expectedVersion > 0 && order.Version != expectedVersion {
		return Order{}, fmt.Errorf("%w: expected version %d but found %d", ErrOrderConflict, expectedVersion, order.Version)
	}
	return order, nil
}

// mutate re-reads the order inside a transaction, applies fn and writes it back with the next
// version. The repository rejects the write if another writer got there first.
func (s *orderService) mutate(ctx context.Context, orderID string, expectedVersion int64, fn func(order *Order, now time.Time) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, orderID, expectedVersion)
		if err != nil {
			return err
		}
		now := s.now()
		if err := fn(&order, now); err != nil {
			return err
		}
		order.Version++
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return translateRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

func (s *orderService) resolveItems(ctx context.Context, inputs []OrderItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for i, input := range inputs {
		item := LineItem{
			ProductID:     strings.TrimSpace(input.ProductID),
			Title:         strings.TrimSpace(input.Title),
			ImageURL:      strings.TrimSpace(input.ImageURL),
			SourceURL:     strings.TrimSpace(input.SourceURL),
			OriginalPrice: input.OriginalPrice,
			Quantity:      input.Quantity,
		}
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d: product id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d: quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if s.products != nil {
			product, err := s.products.FindByID(ctx, item.ProductID)
			if err != nil {
				return nil, translateRepositoryError(err, fmt.Errorf("%w: item %d: unknown product %s", ErrOrderInvalidInput, i, item.ProductID), ErrOrderConflict)
			}
			if product.Status != domain.ProductStatusActive {
				return nil, fmt.Errorf("%w: item %d: product %s is %s", ErrOrderInvalidInput, i, item.ProductID, product.Status)
			}
			item.Title = product.Title
			item.OriginalPrice = product.OriginalPrice
			item.SourceURL = product.SourceURL
			if len(product.ImageURLs) > 0 {
				item.ImageURL = product.ImageURLs[0]
			}
		}
		if item.Title == "" {
			return nil, fmt.Errorf("%w: item %d: title is required", ErrOrderInvalidInput, i)
		}
		price, err := pricing.DisplayPrice(item.OriginalPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrOrderInvalidInput, i, err)
		}
		item.Price = price
		items = append(items, item)
	}
	return items, nil
}

func normaliseContact(customer Customer, delivery Delivery) (Customer, Delivery, error) {
	customer = Customer{
		Email:     strings.TrimSpace(customer.Email),
		FirstName: strings.TrimSpace(customer.FirstName),
		LastName:  strings.TrimSpace(customer.LastName),
		Phone:     strings.TrimSpace(customer.Phone),
	}
	delivery = Delivery{
		Address: strings.TrimSpace(delivery.Address),
		City:    strings.TrimSpace(delivery.City),
		State:   strings.TrimSpace(delivery.State),
		ZipCode: strings.TrimSpace(delivery.ZipCode),
	}

	required := []struct {
		name  string
		value string
	}{
		{"customer.email", customer.Email},
		{"customer.firstName", customer.FirstName},
		{"customer.lastName", customer.LastName},
		{"delivery.address", delivery.Address},
		{"delivery.city", delivery.City},
		{"delivery.state", delivery.State},
		{"delivery.zipCode", delivery.ZipCode},
	}
	var missing []string
	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return Customer{}, Delivery{}, fmt.Errorf("%w: missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	if !looksLikeEmail(customer.Email) {
		return Customer{}, Delivery{}, fmt.Errorf("%w: customer.email is not a valid address", ErrOrderInvalidInput)
	}
	return customer, delivery, nil
}

func looksLikeEmail(value string) bool {
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return false
	}
	if strings.ContainsAny(value, " \t") {
		return false
	}
	return strings.Contains(value[at+1:], ".")
}

func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payments.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrOrderPaymentUnavailable, err)
	case errors.Is(err, payments.ErrNotCapturable):
		return fmt.Errorf("%w: %w", ErrOrderPaymentNotCapturable, err)
	case errors.Is(err, payments.ErrCaptureExceedsHold):
		return fmt.Errorf("%w: %w", ErrOrderCaptureExceedsHold, err)
	case errors.Is(err, payments.ErrInvalidRequest):
		return fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	default:
		return fmt.Errorf("%w: %w", ErrOrderPaymentFailed, err)
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

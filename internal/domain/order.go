package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus enumerates fulfilment states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order exists but checkout has not been confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates checkout completed and the payment hold is in place.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being purchased from the source and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel was handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was abandoned before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus enumerates settlement states of the payment hold attached to an order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// AuthorizationPolicy selects which subtotal is held at checkout.
type AuthorizationPolicy string

const (
	// AuthorizeOriginalSubtotal holds the pre-markup source price sum.
	AuthorizeOriginalSubtotal AuthorizationPolicy = "original_subtotal"
	// AuthorizeMarkedUpSubtotal holds the subtotal the customer was shown.
	AuthorizeMarkedUpSubtotal AuthorizationPolicy = "marked_up_subtotal"
)

// PaymentMode labels whether money moved through the live processor or the simulator.
type PaymentMode string

const (
	PaymentModeLive PaymentMode = "live"
	PaymentModeDemo PaymentMode = "demo"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  nil,
	OrderStatusCancelled:  nil,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusAuthorized: {PaymentStatusCaptured, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCaptured:   nil,
	PaymentStatusFailed:     nil,
	PaymentStatusCancelled:  nil,
}

// ParseOrderStatus normalises raw input into a known order status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := orderTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// ParsePaymentStatus normalises raw input into a known payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := paymentTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// ParseAuthorizationPolicy normalises a configured policy name.
func ParseAuthorizationPolicy(raw string) (AuthorizationPolicy, bool) {
	switch policy := AuthorizationPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case AuthorizeOriginalSubtotal, AuthorizeMarkedUpSubtotal:
		return policy, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further fulfilment transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the fulfilment state machine allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further payment transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	next, ok := paymentTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the payment state machine allows s -> next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s status cannot change from %q to %q", e.Machine, e.From, e.To)
}

// LineItem is one product within an order. Prices are whole yen.
type LineItem struct {
	ProductID     string
	Title         string
	ImageURL      string
	SourceURL     string
	OriginalPrice int64
	Price         int64
	Quantity      int
}

// Customer holds the buyer contact captured at checkout.
type Customer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// Delivery holds the free-text shipping destination.
type Delivery struct {
	Address string
	City    string
	State   string
	ZipCode string
}

// Order is the persisted record of one checkout transaction.
type Order struct {
	ID          string
	CustomerUID string
	Customer    Customer
	Delivery    Delivery
	Items       []LineItem
	Currency    string

	OriginalSubtotal int64
	Subtotal         int64
	ShippingFee      *int64
	Total            int64

	PaymentIntentID     string
	PaymentStatus       PaymentStatus
	PaymentMode         PaymentMode
	AuthorizationPolicy AuthorizationPolicy
	AuthorizedAmount    int64
	HoldAmount          int64
	CapturedAmount      *int64
	PaymentFailure      string

	OrderStatus     OrderStatus
	TrackingNumber  string
	ShippingCarrier string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CapturedAt      *time.Time
	CancelledAt     *time.Time

	NewsletterOptIn bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemsCost sums the source prices of the order lines.
func (o Order) ItemsCost() int64 {
	var cost int64
	for _, item := range o.Items {
		cost += item.OriginalPrice * int64(item.Quantity)
	}
	return cost
}

// IsRealized reports whether the order counts towards profit figures.
func (o Order) IsRealized() bool {
	return o.PaymentStatus == PaymentStatusCaptured && o.OrderStatus == OrderStatusDelivered
}

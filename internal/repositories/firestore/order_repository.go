package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nihonselect/api/internal/domain"
	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders with version-checked updates.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
	uow  *pfirestore.UnitOfWork
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, uow *pfirestore.UnitOfWork) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if uow == nil {
		uow = pfirestore.NewUnitOfWork(provider)
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		uow:  uow,
	}, nil
}

// Insert stores a new order and reports a conflict when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.base.Create(ctx, order.ID, fromDomainOrder(order))
}

// Update replaces the order when the stored version is exactly one behind order.Version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.base.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Data.Version != order.Version-1 {
			return pfirestore.Conflict("orders.update", fmt.Errorf("%w: order %s stored v%d, write v%d",
				pfirestore.ErrVersionMismatch, order.ID, current.Data.Version, order.Version))
		}
		return r.base.Set(ctx, order.ID, fromDomainOrder(order))
	})
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc), nil
}

// FindByPaymentIntentID resolves the order holding the given payment intent.
func (r *OrderRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, errors.New("payment intent id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentIntentId", "==", intentID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.findByPaymentIntent", "no order for payment intent %s", intentID)
	}
	return toDomainOrder(docs[0]), nil
}

// List pages through orders newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var size int
	var pageErr error
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			q = q.Where("orderStatus", "in", filter.Status)
		}
		if len(filter.PaymentStatus) > 0 {
			q = q.Where("paymentStatus", "in", filter.PaymentStatus)
		}
		if filter.CreatedAfter != nil {
			q = q.Where("createdAt", ">=", filter.CreatedAfter.UTC())
		}
		if filter.CreatedBefore != nil {
			q = q.Where("createdAt", "<=", filter.CreatedBefore.UTC())
		}
		q, size, pageErr = pageQuery(q, filter.Pagination)
		return q
	})
	if pageErr != nil {
		return domain.CursorPage[domain.Order]{}, pageErr
	}
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return buildPage(docs, size, func(d orderDocument) time.Time { return d.CreatedAt }, toDomainOrder), nil
}

// ListCreatedBetween returns every order created within [start, end], oldest first.
func (r *OrderRepository) ListCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", ">=", start.UTC()).
			Where("createdAt", "<=", end.UTC()).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc))
	}
	return orders, nil
}

type orderDocument struct {
	CustomerUID string             `firestore:"customerUid"`
	Customer    customerDocument   `firestore:"customer"`
	Delivery    deliveryDocument   `firestore:"delivery"`
	Items       []lineItemDocument `firestore:"items"`
	Currency    string             `firestore:"currency"`

	OriginalSubtotal int64  `firestore:"originalSubtotal"`
	Subtotal         int64  `firestore:"subtotal"`
	ShippingFee      *int64 `firestore:"shippingFee,omitempty"`
	Total            int64  `firestore:"total"`

	PaymentIntentID     string `firestore:"paymentIntentId"`
	PaymentStatus       string `firestore:"paymentStatus"`
	PaymentMode         string `firestore:"paymentMode"`
	AuthorizationPolicy string `firestore:"authorizationPolicy"`
	AuthorizedAmount    int64  `firestore:"authorizedAmount"`
	HoldAmount          int64  `firestore:"holdAmount"`
	CapturedAmount      *int64 `firestore:"capturedAmount,omitempty"`
	PaymentFailure      string `firestore:"paymentFailure,omitempty"`

	OrderStatus     string     `firestore:"orderStatus"`
	TrackingNumber  string     `firestore:"trackingNumber,omitempty"`
	ShippingCarrier string     `firestore:"shippingCarrier,omitempty"`
	ShippedAt       *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time `firestore:"deliveredAt,omitempty"`
	CapturedAt      *time.Time `firestore:"capturedAt,omitempty"`
	CancelledAt     *time.Time `firestore:"cancelledAt,omitempty"`

	NewsletterOptIn bool      `firestore:"newsletterOptIn"`
	Version         int64     `firestore:"version"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type customerDocument struct {
	Email     string `firestore:"email"`
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Phone     string `firestore:"phone,omitempty"`
}

type deliveryDocument struct {
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	State   string `firestore:"state,omitempty"`
	ZipCode string `firestore:"zipCode"`
}

type lineItemDocument struct {
	ProductID     string `firestore:"productId"`
	Title         string `firestore:"title"`
	ImageURL      string `firestore:"imageUrl,omitempty"`
	SourceURL     string `firestore:"sourceUrl,omitempty"`
	OriginalPrice int64  `firestore:"originalPrice"`
	Price         int64  `firestore:"price"`
	Quantity      int    `firestore:"quantity"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemDocument(item))
	}
	return orderDocument{
		CustomerUID:         order.CustomerUID,
		Customer:            customerDocument(order.Customer),
		Delivery:            deliveryDocument(order.Delivery),
		Items:               items,
		Currency:            order.Currency,
		OriginalSubtotal:    order.OriginalSubtotal,
		Subtotal:            order.Subtotal,
		ShippingFee:         order.ShippingFee,
		Total:               order.Total,
		PaymentIntentID:     order.PaymentIntentID,
		PaymentStatus:       string(order.PaymentStatus),
		PaymentMode:         string(order.PaymentMode),
		AuthorizationPolicy: string(order.AuthorizationPolicy),
		AuthorizedAmount:    order.AuthorizedAmount,
		HoldAmount:          order.HoldAmount,
		CapturedAmount:      order.CapturedAmount,
		PaymentFailure:      order.PaymentFailure,
		OrderStatus:         string(order.OrderStatus),
		TrackingNumber:      order.TrackingNumber,
		ShippingCarrier:     order.ShippingCarrier,
		ShippedAt:           utcPtr(order.ShippedAt),
		DeliveredAt:         utcPtr(order.DeliveredAt),
		CapturedAt:          utcPtr(order.CapturedAt),
		CancelledAt:         utcPtr(order.CancelledAt),
		NewsletterOptIn:     order.NewsletterOptIn,
		Version:             order.Version,
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
	}
}

func toDomainOrder(doc pfirestore.Document[orderDocument]) domain.Order {
	data := doc.Data
	items := make([]domain.LineItem, 0, len(data.Items))
	for _, item := range data.Items {
		items = append(items, domain.LineItem(item))
	}
	return domain.Order{
		ID:                  doc.ID,
		CustomerUID:         data.CustomerUID,
		Customer:            domain.Customer(data.Customer),
		Delivery:            domain.Delivery(data.Delivery),
		Items:               items,
		Currency:            data.Currency,
		OriginalSubtotal:    data.OriginalSubtotal,
		Subtotal:            data.Subtotal,
		ShippingFee:         data.ShippingFee,
		Total:               data.Total,
		PaymentIntentID:     data.PaymentIntentID,
		PaymentStatus:       domain.PaymentStatus(data.PaymentStatus),
		PaymentMode:         domain.PaymentMode(data.PaymentMode),
		AuthorizationPolicy: domain.AuthorizationPolicy(data.AuthorizationPolicy),
		AuthorizedAmount:    data.AuthorizedAmount,
		HoldAmount:          data.HoldAmount,
		CapturedAmount:      data.CapturedAmount,
		PaymentFailure:      data.PaymentFailure,
		OrderStatus:         domain.OrderStatus(data.OrderStatus),
		TrackingNumber:      data.TrackingNumber,
		ShippingCarrier:     data.ShippingCarrier,
		ShippedAt:           data.ShippedAt,
		DeliveredAt:         data.DeliveredAt,
		CapturedAt:          data.CapturedAt,
		CancelledAt:         data.CancelledAt,
		NewsletterOptIn:     data.NewsletterOptIn,
		Version:             data.Version,
		CreatedAt:           data.CreatedAt,
		UpdatedAt:           data.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}

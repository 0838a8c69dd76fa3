package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/services"
)

// OrderHandlers exposes order placement and the shopper's own order lookup.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, idem func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		orders:      orders,
		idempotency: idem,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Route("/orders", func(or chi.Router) {
		create := or
		if h.authn != nil {
			create = create.With(h.authn.OptionalFirebaseAuth())
		}
		if h.idempotency != nil {
			create = create.With(h.idempotency)
		}
		create.Post("/", h.createOrder)

		read := or
		if h.authn != nil {
			read = read.With(h.authn.RequireFirebaseAuth())
		}
		read.Get("/{orderID}", h.getOrder)
	})
}

type customerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type deliveryRequest struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

type orderItemRequest struct {
	ProductID     string `json:"product_id"`
	Title         string `json:"title"`
	ImageURL      string `json:"image_url"`
	SourceURL     string `json:"source_url"`
	OriginalPrice int64  `json:"original_price"`
	Quantity      int    `json:"quantity"`
}

type createOrderRequest struct {
	Customer        customerRequest    `json:"customer"`
	Delivery        deliveryRequest    `json:"delivery"`
	Items           []orderItemRequest `json:"items"`
	PaymentIntentID string             `json:"payment_intent_id"`
	NewsletterOptIn bool               `json:"newsletter_opt_in"`
}

type orderPayload struct {
	ID                  string            `json:"id"`
	OrderStatus         string            `json:"order_status"`
	PaymentStatus       string            `json:"payment_status"`
	PaymentMode         string            `json:"payment_mode"`
	PaymentIntentID     string            `json:"payment_intent_id"`
	Customer            customerPayload   `json:"customer"`
	Delivery            deliveryPayload   `json:"delivery"`
	Items               []lineItemPayload `json:"items"`
	Currency            string            `json:"currency"`
	OriginalSubtotal    int64             `json:"original_subtotal"`
	Subtotal            int64             `json:"subtotal"`
	ShippingFee         *int64            `json:"shipping_fee"`
	Total               int64             `json:"total"`
	AuthorizationPolicy string            `json:"authorization_policy"`
	AuthorizedAmount    int64             `json:"authorized_amount"`
	HoldAmount          int64             `json:"hold_amount"`
	CapturedAmount      *int64            `json:"captured_amount"`
	PaymentFailure      string            `json:"payment_failure,omitempty"`
	TrackingNumber      string            `json:"tracking_number,omitempty"`
	ShippingCarrier     string            `json:"shipping_carrier,omitempty"`
	ShippedAt           string            `json:"shipped_at,omitempty"`
	DeliveredAt         string            `json:"delivered_at,omitempty"`
	CapturedAt          string            `json:"captured_at,omitempty"`
	CancelledAt         string            `json:"cancelled_at,omitempty"`
	NewsletterOptIn     bool              `json:"newsletter_opt_in"`
	Version             int64             `json:"version"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
}

type customerPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

type deliveryPayload struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Customer: services.Customer{
			Email:     req.Customer.Email,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Phone:     req.Customer.Phone,
		},
		Delivery: services.Delivery{
			Address: req.Delivery.Address,
			City:    req.Delivery.City,
			State:   req.Delivery.State,
			ZipCode: req.Delivery.ZipCode,
		},
		Items:           make([]services.OrderItemInput, 0, len(req.Items)),
		PaymentIntentID: req.PaymentIntentID,
		NewsletterOptIn: req.NewsletterOptIn,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID:     strings.TrimSpace(item.ProductID),
			Title:         item.Title,
			ImageURL:      item.ImageURL,
			SourceURL:     item.SourceURL,
			OriginalPrice: item.OriginalPrice,
			Quantity:      item.Quantity,
		})
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.CustomerUID = identity.UID
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

// getOrder answers 404 for orders owned by someone else so order IDs cannot be probed.
func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err == nil && order.CustomerUID != identity.UID {
		err = services.ErrOrderNotFound
	}
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:              order.ID,
		OrderStatus:     string(order.OrderStatus),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMode:     string(order.PaymentMode),
		PaymentIntentID: order.PaymentIntentID,
		Customer: customerPayload{
			Email:     order.Customer.Email,
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Phone:     order.Customer.Phone,
		},
		Delivery: deliveryPayload{
			Address: order.Delivery.Address,
			City:    order.Delivery.City,
			State:   order.Delivery.State,
			ZipCode: order.Delivery.ZipCode,
		},
		Items:               buildLineItemPayloads(order.Items),
		Currency:            order.Currency,
		OriginalSubtotal:    order.OriginalSubtotal,
		Subtotal:            order.Subtotal,
		ShippingFee:         order.ShippingFee,
		Total:               order.Total,
		AuthorizationPolicy: string(order.AuthorizationPolicy),
		AuthorizedAmount:    order.AuthorizedAmount,
		HoldAmount:          order.HoldAmount,
		CapturedAmount:      order.CapturedAmount,
		PaymentFailure:      order.PaymentFailure,
		TrackingNumber:      order.TrackingNumber,
		ShippingCarrier:     order.ShippingCarrier,
		ShippedAt:           formatTimePtr(order.ShippedAt),
		DeliveredAt:         formatTimePtr(order.DeliveredAt),
		CapturedAt:          formatTimePtr(order.CapturedAt),
		CancelledAt:         formatTimePtr(order.CancelledAt),
		NewsletterOptIn:     order.NewsletterOptIn,
		Version:             order.Version,
		CreatedAt:           formatTime(order.CreatedAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/services"
)

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type shippingFeeRequest struct {
	ShippingFee     *int64 `json:"shipping_fee"`
	ExpectedVersion int64  `json:"expected_version"`
}

type orderStatusRequest struct {
	Status          string `json:"status"`
	TrackingNumber  string `json:"tracking_number"`
	ShippingCarrier string `json:"shipping_carrier"`
	ExpectedVersion int64  `json:"expected_version"`
}

type paymentStatusRequest struct {
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

type captureRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

type intentCaptureRequest struct {
	ShippingFee *int64 `json:"shipping_fee"`
}

func (h *AdminHandlers) ordersAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}

	query := r.URL.Query()
	pager, err := parsePagination(query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	after, err := optionalTimeParam(query, "created_after")
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	before, err := optionalTimeParam(query, "created_before")
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status:        parseFilterValues(query["status"]),
		PaymentStatus: parseFilterValues(query["payment_status"]),
		CreatedAfter:  after,
		CreatedBefore: before,
		Pagination:    pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := orderListPayload{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Items = append(payload.Items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) setShippingFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}
	var req shippingFeeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if req.ShippingFee == nil {
		writeBadRequest(ctx, w, "shipping_fee is required")
		return
	}

	order, err := h.orders.SetShippingFee(ctx, services.SetShippingFeeCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		Fee:             *req.ShippingFee,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}
	var req orderStatusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	order, err := h.orders.SetOrderStatus(ctx, services.SetOrderStatusCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		Status:          req.Status,
		TrackingNumber:  req.TrackingNumber,
		ShippingCarrier: req.ShippingCarrier,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}
	var req paymentStatusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	order, err := h.orders.SetPaymentStatus(ctx, services.SetPaymentStatusCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		Status:          req.Status,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

// capturePayment captures the authorised amount plus the shipping fee. The body is optional; an
// Idempotency-Key header is forwarded to the processor.
func (h *AdminHandlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}
	var req captureRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	}

	order, err := h.orders.CapturePayment(ctx, services.CapturePaymentCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

// captureByIntent sets the final shipping fee and captures in one step, addressing the order by
// its payment intent.
func (h *AdminHandlers) captureByIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ordersAvailable(w, r) {
		return
	}
	var req intentCaptureRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if req.ShippingFee == nil {
		writeBadRequest(ctx, w, "shipping_fee is required")
		return
	}

	order, err := h.orders.CaptureByIntent(ctx, chi.URLParam(r, "intentID"), *req.ShippingFee)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

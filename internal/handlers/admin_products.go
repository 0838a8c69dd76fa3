package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/services"
)

type adminProductPayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	TitleEN       string   `json:"title_en,omitempty"`
	Description   string   `json:"description,omitempty"`
	DescriptionEN string   `json:"description_en,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	ImageURLs     []string `json:"image_urls"`
	SourceURL     string   `json:"source_url,omitempty"`
	OriginalPrice int64    `json:"original_price"`
	Category      string   `json:"category,omitempty"`
	Status        string   `json:"status"`
	Stock         int      `json:"stock"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

type adminProductListPayload struct {
	Items         []adminProductPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type upsertProductRequest struct {
	Title         string   `json:"title"`
	TitleEN       string   `json:"title_en"`
	Description   string   `json:"description"`
	DescriptionEN string   `json:"description_en"`
	ImageURLs     []string `json:"image_urls"`
	SourceURL     string   `json:"source_url"`
	OriginalPrice int64    `json:"original_price"`
	Category      string   `json:"category"`
	Stock         int      `json:"stock"`
}

type importProductRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ImageURLs     []string `json:"image_urls"`
	SourceURL     string   `json:"source_url"`
	OriginalPrice int64    `json:"original_price"`
	Category      string   `json:"category"`
	Stock         int      `json:"stock"`
}

type productStatusRequest struct {
	Status string `json:"status"`
}

type imageUploadRequest struct {
	ContentType string `json:"content_type"`
}

type imageUploadPayload struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	ObjectPath  string            `json:"object_path"`
	PublicURL   string            `json:"public_url"`
	ContentType string            `json:"content_type"`
	ExpiresAt   string            `json:"expires_at"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func (h *AdminHandlers) catalogAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.catalog == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(w, r) {
		return
	}
	query := r.URL.Query()
	pager, err := parsePagination(query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	page, err := h.catalog.ListAdminProducts(ctx, services.AdminProductFilter{
		Category:   strings.TrimSpace(query.Get("category")),
		Status:     parseFilterValues(query["status"]),
		Pagination: pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := adminProductListPayload{
		Items:         make([]adminProductPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		payload.Items = append(payload.Items, buildAdminProductPayload(product))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "")
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, chi.URLParam(r, "productID"))
}

func (h *AdminHandlers) saveProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if !h.catalogAvailable(w, r) {
		return
	}
	var req upsertProductRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	cmd := services.UpsertProductCommand{
		ID:            productID,
		Title:         req.Title,
		TitleEN:       req.TitleEN,
		Description:   req.Description,
		DescriptionEN: req.DescriptionEN,
		ImageURLs:     req.ImageURLs,
		SourceURL:     req.SourceURL,
		OriginalPrice: req.OriginalPrice,
		Category:      req.Category,
		Stock:         req.Stock,
	}

	var (
		product services.Product
		err     error
		status  = http.StatusOK
	)
	if productID == "" {
		product, err = h.catalog.CreateProduct(ctx, cmd)
		status = http.StatusCreated
	} else {
		product, err = h.catalog.UpdateProduct(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, buildAdminProductPayload(product))
}

func (h *AdminHandlers) importProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(w, r) {
		return
	}
	var req importProductRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	product, err := h.catalog.ImportProduct(ctx, services.ImportProductCommand{
		Title:         req.Title,
		Description:   req.Description,
		ImageURLs:     req.ImageURLs,
		SourceURL:     req.SourceURL,
		OriginalPrice: req.OriginalPrice,
		Category:      req.Category,
		Stock:         req.Stock,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildAdminProductPayload(product))
}

func (h *AdminHandlers) setProductStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(w, r) {
		return
	}
	var req productStatusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	product, err := h.catalog.SetProductStatus(ctx, chi.URLParam(r, "productID"), req.Status)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAdminProductPayload(product))
}

func (h *AdminHandlers) imageUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.catalogAvailable(w, r) {
		return
	}
	var req imageUploadRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	upload, err := h.catalog.ImageUploadURL(ctx, chi.URLParam(r, "productID"), req.ContentType)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, imageUploadPayload{
		URL:         upload.URL,
		Method:      upload.Method,
		ObjectPath:  upload.ObjectPath,
		PublicURL:   upload.PublicURL,
		ContentType: upload.ContentType,
		ExpiresAt:   formatTime(upload.ExpiresAt),
		Headers:     upload.Headers,
	})
}

func buildAdminProductPayload(product services.Product) adminProductPayload {
	images := product.ImageURLs
	if images == nil {
		images = []string{}
	}
	return adminProductPayload{
		ID:            product.ID,
		Title:         product.Title,
		TitleEN:       product.TitleEN,
		Description:   product.Description,
		DescriptionEN: product.DescriptionEN,
		Summary:       product.Summary,
		ImageURLs:     images,
		SourceURL:     product.SourceURL,
		OriginalPrice: product.OriginalPrice,
		Category:      product.Category,
		Status:        string(product.Status),
		Stock:         product.Stock,
		CreatedAt:     formatTime(product.CreatedAt),
		UpdatedAt:     formatTime(product.UpdatedAt),
	}
}

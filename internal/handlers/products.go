package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/platform/requestctx"
	"github.com/nihonselect/api/internal/services"
)

// ProductHandlers serves the public storefront catalogue.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs the catalogue handlers.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes registers /products.
func (h *ProductHandlers) Routes(r chi.Router) {
	r.Route("/products", func(pr chi.Router) {
		pr.Use(negotiateLocale)
		pr.Get("/", h.listProducts)
		pr.Get("/{productID}", h.getProduct)
	})
}

type productPayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	ImageURLs     []string `json:"image_urls"`
	SourceURL     string   `json:"source_url,omitempty"`
	OriginalPrice int64    `json:"original_price"`
	Price         int64    `json:"price"`
	Currency      string   `json:"currency"`
	Category      string   `json:"category,omitempty"`
	Stock         int      `json:"stock"`
	Locale        string   `json:"locale"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

type productListPayload struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pager, err := parsePagination(query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	page, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		Category:   strings.TrimSpace(query.Get("category")),
		Locale:     requestctx.Locale(ctx),
		Pagination: pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := productListPayload{
		Items:         make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, view := range page.Items {
		payload.Items = append(payload.Items, buildProductPayload(view))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	view, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"), requestctx.Locale(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(view))
}

func buildProductPayload(view services.ProductView) productPayload {
	images := view.ImageURLs
	if images == nil {
		images = []string{}
	}
	return productPayload{
		ID:            view.ID,
		Title:         view.Title,
		Description:   view.Description,
		Summary:       view.Summary,
		ImageURLs:     images,
		SourceURL:     view.SourceURL,
		OriginalPrice: view.OriginalPrice,
		Price:         view.DisplayPrice,
		Currency:      view.Currency,
		Category:      view.Category,
		Stock:         view.Stock,
		Locale:        view.Locale,
		UpdatedAt:     formatTime(view.UpdatedAt),
	}
}

// negotiateLocale picks the storefront locale from ?locale=, then Accept-Language.
func negotiateLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.URL.Query().Get("locale"))
		if raw == "" {
			raw = r.Header.Get("Accept-Language")
		}
		locale := services.ResolveLocale(raw)
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), locale)))
	})
}

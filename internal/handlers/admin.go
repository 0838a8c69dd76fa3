package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/platform/httpx"
	"github.com/nihonselect/api/internal/rbac"
	"github.com/nihonselect/api/internal/services"
)

// AdminHandlers exposes the back-office API. Every route requires a Firebase session whose UID
// resolves to an active admin user; each route then checks a single permission.
type AdminHandlers struct {
	authn   *auth.Authenticator
	admins  services.AdminUserService
	orders  services.OrderService
	catalog services.CatalogService
	profit  services.ProfitService
	loc     *time.Location
}

// AdminServices groups the services backing the admin API.
type AdminServices struct {
	Admins  services.AdminUserService
	Orders  services.OrderService
	Catalog services.CatalogService
	Profit  services.ProfitService
	// ReportingLocation interprets date-only analytics bounds. Defaults to UTC.
	ReportingLocation *time.Location
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, svc AdminServices) *AdminHandlers {
	return &AdminHandlers{
		authn:   authn,
		admins:  svc.Admins,
		orders:  svc.Orders,
		catalog: svc.Catalog,
		profit:  svc.Profit,
		loc:     svc.ReportingLocation,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Use(h.resolveAdmin)

	r.Get("/me", h.me)

	r.With(requirePermission(rbac.PermOrdersRead)).Get("/orders", h.listOrders)
	r.With(requirePermission(rbac.PermOrdersRead)).Get("/orders/{orderID}", h.getOrder)
	r.With(requirePermission(rbac.PermOrdersWrite)).Put("/orders/{orderID}/shipping-fee", h.setShippingFee)
	r.With(requirePermission(rbac.PermOrdersWrite)).Put("/orders/{orderID}/status", h.setOrderStatus)
	r.With(requirePermission(rbac.PermOrdersWrite)).Put("/orders/{orderID}/payment-status", h.setPaymentStatus)
	r.With(requirePermission(rbac.PermOrdersCapture)).Post("/orders/{orderID}:capture", h.capturePayment)
	r.With(requirePermission(rbac.PermOrdersCapture)).Post("/payments/{intentID}:capture", h.captureByIntent)

	r.With(requirePermission(rbac.PermAnalyticsRead)).Get("/analytics/profit", h.profitTimeseries)
	r.With(requirePermission(rbac.PermAnalyticsRead)).Get("/analytics/profit/summary", h.profitSummary)

	r.With(requirePermission(rbac.PermProductsRead)).Get("/products", h.listProducts)
	r.With(requirePermission(rbac.PermProductsWrite)).Post("/products", h.createProduct)
	r.With(requirePermission(rbac.PermProductsWrite)).Post("/products:import", h.importProduct)
	r.With(requirePermission(rbac.PermProductsWrite)).Put("/products/{productID}", h.updateProduct)
	r.With(requirePermission(rbac.PermProductsWrite)).Put("/products/{productID}/status", h.setProductStatus)
	r.With(requirePermission(rbac.PermProductsWrite)).Post("/products/{productID}/image-upload-url", h.imageUploadURL)

	r.With(requirePermission(rbac.PermUsersManage)).Get("/users", h.listUsers)
	r.With(requirePermission(rbac.PermUsersManage)).Put("/users/{uid}", h.upsertUser)
	r.With(requirePermission(rbac.PermUsersManage)).Put("/users/{uid}/active", h.setUserActive)
}

type adminContextKey struct{}

func withAdmin(ctx context.Context, admin services.AdminUser) context.Context {
	return context.WithValue(ctx, adminContextKey{}, admin)
}

func adminFromContext(ctx context.Context) (services.AdminUser, bool) {
	admin, ok := ctx.Value(adminContextKey{}).(services.AdminUser)
	return admin, ok
}

func (h *AdminHandlers) resolveAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.admins == nil {
			httpx.WriteError(ctx, w, httpx.NewError("admin_unavailable", "admin user service unavailable", http.StatusServiceUnavailable))
			return
		}
		identity, ok := auth.IdentityFromContext(ctx)
		if !ok || identity.UID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return
		}

		admin, err := h.admins.Resolve(ctx, identity.UID, identity.Email)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrForbidden) {
				httpx.WriteError(ctx, w, httpx.NewError("admin_access_denied", "admin access denied", http.StatusForbidden))
				return
			}
			writeServiceError(ctx, w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAdmin(ctx, admin)))
	})
}

// requirePermission enforces perm for the resolved admin. Read-only roles are refused every
// non-GET request even when the permission itself is granted.
func requirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			admin, ok := adminFromContext(ctx)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("admin_access_denied", "admin access denied", http.StatusForbidden))
				return
			}
			role, known := rbac.ParseRole(admin.Role)
			if !known {
				httpx.WriteError(ctx, w, httpx.NewError("admin_access_denied", "admin access denied", http.StatusForbidden))
				return
			}
			if rbac.IsReadOnly(role) && isMutating(r.Method) {
				httpx.WriteError(ctx, w, httpx.NewError("read_only_role", "test mode accounts cannot modify data", http.StatusForbidden))
				return
			}
			if !rbac.HasPermission(role, perm) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_permission", "missing permission "+string(perm), http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

type adminUserPayload struct {
	UID         string   `json:"uid"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func (h *AdminHandlers) me(w http.ResponseWriter, r *http.Request) {
	admin, _ := adminFromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, buildAdminUserPayload(admin))
}

func buildAdminUserPayload(user services.AdminUser) adminUserPayload {
	perms := user.Permissions
	if perms == nil {
		perms = []string{}
	}
	return adminUserPayload{
		UID:         user.UID,
		Email:       user.Email,
		Role:        user.Role,
		Permissions: perms,
		IsActive:    user.IsActive,
		CreatedAt:   formatTime(user.CreatedAt),
		UpdatedAt:   formatTime(user.UpdatedAt),
	}
}

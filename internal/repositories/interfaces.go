package repositories

import (
	"context"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	AdminUsers() AdminUserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings for the admin console.
type OrderListFilter struct {
	Status        []string
	PaymentStatus []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// OrderRepository persists order documents.
//
// Update is a compare-and-swap: the stored version must equal order.Version-1, otherwise the
// returned error reports IsConflict.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListCreatedBetween returns every order with start <= createdAt <= end.
	ListCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.Order, error)
}

// ProductListFilter narrows catalogue listings.
type ProductListFilter struct {
	Category   string
	Status     []domain.ProductStatus
	Pagination domain.Pagination
}

// ProductRepository persists storefront products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// AdminUserRepository persists back-office accounts keyed by Firebase uid.
type AdminUserRepository interface {
	FindByUID(ctx context.Context, uid string) (domain.AdminUser, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.AdminUser], error)
	Upsert(ctx context.Context, user domain.AdminUser) error
}

// HealthRepository reports dependency status for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

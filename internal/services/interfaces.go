package services

import (
	"context"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	LineItem           = domain.LineItem
	Customer           = domain.Customer
	Delivery           = domain.Delivery
	Product            = domain.Product
	AdminUser          = domain.AdminUser
	ProfitData         = domain.ProfitData
	ProfitSummary      = domain.ProfitSummary
	SystemHealthReport = domain.SystemHealthReport
)

// Logger is the structured logging hook accepted by every service.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CheckoutService places the payment hold for a cart before an order exists.
type CheckoutService interface {
	Authorize(ctx context.Context, input AuthorizeCheckoutInput) (CheckoutAuthorization, error)
}

// CartItem references a catalogue product by ID. Prices are always resolved on the server.
type CartItem struct {
	ProductID string
	Quantity  int
}

// AuthorizeCheckoutInput carries the cart to hold funds for.
type AuthorizeCheckoutInput struct {
	Items          []CartItem
	CustomerUID    string
	IdempotencyKey string
}

// CheckoutAuthorization describes the hold placed for a cart.
type CheckoutAuthorization struct {
	PaymentIntentID     string
	ClientSecret        string
	Mode                payments.Mode
	Currency            string
	Items               []LineItem
	OriginalSubtotal    int64
	Subtotal            int64
	AuthorizedAmount    int64
	HoldAmount          int64
	AuthorizationPolicy domain.AuthorizationPolicy
}

// OrderService owns the order record and its payment lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	SetShippingFee(ctx context.Context, cmd SetShippingFeeCommand) (Order, error)
	SetOrderStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	SetPaymentStatus(ctx context.Context, cmd SetPaymentStatusCommand) (Order, error)
	CapturePayment(ctx context.Context, cmd CapturePaymentCommand) (Order, error)
	CaptureByIntent(ctx context.Context, intentID string, shippingFee int64) (Order, error)
}

// OrderItemInput is one submitted order line. OriginalPrice and Title are overridden by the
// catalogue when the product is known to it.
type OrderItemInput struct {
	ProductID     string
	Title         string
	ImageURL      string
	SourceURL     string
	OriginalPrice int64
	Quantity      int
}

// CreateOrderCommand records a checkout whose payment hold already exists.
type CreateOrderCommand struct {
	CustomerUID     string
	Customer        Customer
	Delivery        Delivery
	Items           []OrderItemInput
	PaymentIntentID string
	NewsletterOptIn bool
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status        []string
	PaymentStatus []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    Pagination
}

// SetShippingFeeCommand finalises the shipping cost. ExpectedVersion 0 skips the version check.
type SetShippingFeeCommand struct {
	OrderID         string
	Fee             int64
	ExpectedVersion int64
}

// SetOrderStatusCommand moves the fulfilment state machine.
type SetOrderStatusCommand struct {
	OrderID         string
	Status          string
	TrackingNumber  string
	ShippingCarrier string
	ExpectedVersion int64
}

// SetPaymentStatusCommand moves the payment state machine. Captures go through CapturePayment.
type SetPaymentStatusCommand struct {
	OrderID         string
	Status          string
	Reason          string
	ExpectedVersion int64
}

// CapturePaymentCommand captures the authorised amount plus the shipping fee.
type CapturePaymentCommand struct {
	OrderID         string
	ExpectedVersion int64
	IdempotencyKey  string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	Version        int64
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// ProfitService reports realized profit for the admin dashboard.
type ProfitService interface {
	Timeseries(ctx context.Context, query ProfitQuery) ([]ProfitData, error)
	Summary(ctx context.Context, start, end time.Time) (ProfitSummary, error)
}

// ProfitQuery selects the range and bucket width of a timeseries.
type ProfitQuery struct {
	Start       time.Time
	End         time.Time
	Granularity string
}

// CatalogService serves the storefront catalogue and its admin maintenance.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[ProductView], error)
	GetProduct(ctx context.Context, productID string, locale string) (ProductView, error)
	ListAdminProducts(ctx context.Context, filter AdminProductFilter) (domain.CursorPage[Product], error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	ImportProduct(ctx context.Context, cmd ImportProductCommand) (Product, error)
	SetProductStatus(ctx context.Context, productID string, status string) (Product, error)
	ImageUploadURL(ctx context.Context, productID string, contentType string) (SignedUpload, error)
}

// ProductListFilter narrows storefront listings; only active products are returned.
type ProductListFilter struct {
	Category   string
	Locale     string
	Pagination Pagination
}

// AdminProductFilter narrows admin listings across every status.
type AdminProductFilter struct {
	Category   string
	Status     []string
	Pagination Pagination
}

// ProductView is the storefront projection of a product.
type ProductView struct {
	ID            string
	Title         string
	Description   string
	Summary       string
	ImageURLs     []string
	SourceURL     string
	OriginalPrice int64
	DisplayPrice  int64
	Currency      string
	Category      string
	Stock         int
	Locale        string
	UpdatedAt     time.Time
}

// UpsertProductCommand creates or replaces editable product fields. ID is ignored on create.
type UpsertProductCommand struct {
	ID            string
	Title         string
	TitleEN       string
	Description   string
	DescriptionEN string
	ImageURLs     []string
	SourceURL     string
	OriginalPrice int64
	Category      string
	Stock         int
}

// ImportProductCommand ingests a scraped Japanese listing. English fields are derived.
type ImportProductCommand struct {
	Title         string
	Description   string
	ImageURLs     []string
	SourceURL     string
	OriginalPrice int64
	Category      string
	Stock         int
}

// SignedUpload is a short-lived URL the admin console PUTs an image to.
type SignedUpload struct {
	URL         string
	Method      string
	ObjectPath  string
	PublicURL   string
	ContentType string
	ExpiresAt   time.Time
	// Headers must accompany the upload request verbatim or the signature is rejected.
	Headers map[string]string
}

// AdminUserService resolves and manages back-office operators.
type AdminUserService interface {
	Resolve(ctx context.Context, uid string, email string) (AdminUser, error)
	List(ctx context.Context, pager Pagination) (domain.CursorPage[AdminUser], error)
	Upsert(ctx context.Context, cmd UpsertAdminUserCommand) (AdminUser, error)
	SetActive(ctx context.Context, cmd SetAdminUserActiveCommand) (AdminUser, error)
}

// UpsertAdminUserCommand assigns a role. ActorUID must belong to a super_admin.
type UpsertAdminUserCommand struct {
	ActorUID string
	UID      string
	Email    string
	Role     string
}

// SetAdminUserActiveCommand enables or disables an operator.
type SetAdminUserActiveCommand struct {
	ActorUID string
	UID      string
	Active   bool
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

// tokenVerifier accepts bearer tokens of the form "uid:<uid>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	uid, ok := strings.CutPrefix(idToken, "uid:")
	if !ok || uid == "" {
		return nil, auth.ErrTokenInvalid
	}
	return &firebaseauth.Token{UID: uid, Claims: map[string]interface{}{"email": uid + "@example.com"}}, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{})
}

type stubCatalogService struct {
	listFn      func(context.Context, services.ProductListFilter) (domain.CursorPage[services.ProductView], error)
	getFn       func(context.Context, string, string) (services.ProductView, error)
	adminListFn func(context.Context, services.AdminProductFilter) (domain.CursorPage[services.Product], error)
	createFn    func(context.Context, services.UpsertProductCommand) (services.Product, error)
	updateFn    func(context.Context, services.UpsertProductCommand) (services.Product, error)
	importFn    func(context.Context, services.ImportProductCommand) (services.Product, error)
	statusFn    func(context.Context, string, string) (services.Product, error)
	uploadFn    func(context.Context, string, string) (services.SignedUpload, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.ProductView], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.ProductView]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, id string, locale string) (services.ProductView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, locale)
	}
	return services.ProductView{}, errNotStubbed
}

func (s *stubCatalogService) ListAdminProducts(ctx context.Context, filter services.AdminProductFilter) (domain.CursorPage[services.Product], error) {
	if s.adminListFn != nil {
		return s.adminListFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) ImportProduct(ctx context.Context, cmd services.ImportProductCommand) (services.Product, error) {
	if s.importFn != nil {
		return s.importFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) SetProductStatus(ctx context.Context, id string, status string) (services.Product, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, id, status)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) ImageUploadURL(ctx context.Context, id string, contentType string) (services.SignedUpload, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, id, contentType)
	}
	return services.SignedUpload{}, errNotStubbed
}

type stubOrderService struct {
	createFn        func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn           func(context.Context, string) (services.Order, error)
	listFn          func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	shippingFeeFn   func(context.Context, services.SetShippingFeeCommand) (services.Order, error)
	orderStatusFn   func(context.Context, services.SetOrderStatusCommand) (services.Order, error)
	paymentStatusFn func(context.Context, services.SetPaymentStatusCommand) (services.Order, error)
	captureFn       func(context.Context, services.CapturePaymentCommand) (services.Order, error)
	captureIntentFn func(context.Context, string, int64) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, id string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) SetShippingFee(ctx context.Context, cmd services.SetShippingFeeCommand) (services.Order, error) {
	if s.shippingFeeFn != nil {
		return s.shippingFeeFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) SetOrderStatus(ctx context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
	if s.orderStatusFn != nil {
		return s.orderStatusFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) SetPaymentStatus(ctx context.Context, cmd services.SetPaymentStatusCommand) (services.Order, error) {
	if s.paymentStatusFn != nil {
		return s.paymentStatusFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CapturePayment(ctx context.Context, cmd services.CapturePaymentCommand) (services.Order, error) {
	if s.captureFn != nil {
		return s.captureFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CaptureByIntent(ctx context.Context, intentID string, fee int64) (services.Order, error) {
	if s.captureIntentFn != nil {
		return s.captureIntentFn(ctx, intentID, fee)
	}
	return services.Order{}, errNotStubbed
}

type stubCheckoutService struct {
	authorizeFn func(context.Context, services.AuthorizeCheckoutInput) (services.CheckoutAuthorization, error)
}

func (s *stubCheckoutService) Authorize(ctx context.Context, input services.AuthorizeCheckoutInput) (services.CheckoutAuthorization, error) {
	if s.authorizeFn != nil {
		return s.authorizeFn(ctx, input)
	}
	return services.CheckoutAuthorization{}, errNotStubbed
}

// stubAdminUserService resolves admins from a fixed uid → role table.
type stubAdminUserService struct {
	roles     map[string]string
	upsertFn  func(context.Context, services.UpsertAdminUserCommand) (services.AdminUser, error)
	setActive func(context.Context, services.SetAdminUserActiveCommand) (services.AdminUser, error)
}

func (s *stubAdminUserService) Resolve(_ context.Context, uid string, email string) (services.AdminUser, error) {
	role, ok := s.roles[uid]
	if !ok {
		return services.AdminUser{}, services.ErrAdminUserNotFound
	}
	return services.AdminUser{UID: uid, Email: email, Role: role, IsActive: true}, nil
}

func (s *stubAdminUserService) List(context.Context, services.Pagination) (domain.CursorPage[services.AdminUser], error) {
	return domain.CursorPage[services.AdminUser]{}, nil
}

func (s *stubAdminUserService) Upsert(ctx context.Context, cmd services.UpsertAdminUserCommand) (services.AdminUser, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.AdminUser{}, errNotStubbed
}

func (s *stubAdminUserService) SetActive(ctx context.Context, cmd services.SetAdminUserActiveCommand) (services.AdminUser, error) {
	if s.setActive != nil {
		return s.setActive(ctx, cmd)
	}
	return services.AdminUser{}, errNotStubbed
}

type stubProfitService struct {
	timeseriesFn func(context.Context, services.ProfitQuery) ([]services.ProfitData, error)
	summaryFn    func(context.Context, time.Time, time.Time) (services.ProfitSummary, error)
}

func (s *stubProfitService) Timeseries(ctx context.Context, query services.ProfitQuery) ([]services.ProfitData, error) {
	if s.timeseriesFn != nil {
		return s.timeseriesFn(ctx, query)
	}
	return nil, nil
}

func (s *stubProfitService) Summary(ctx context.Context, start, end time.Time) (services.ProfitSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, start, end)
	}
	return services.ProfitSummary{}, nil
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

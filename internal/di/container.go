package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/payments"
	"github.com/nihonselect/api/internal/platform/config"
	platformstorage "github.com/nihonselect/api/internal/platform/storage"
	"github.com/nihonselect/api/internal/repositories"
	"github.com/nihonselect/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled in NewContainer.
type Services struct {
	Checkout services.CheckoutService
	Orders   services.OrderService
	Catalog  services.CatalogService
	Profit   services.ProfitService
	Admins   services.AdminUserService
	System   services.SystemService
}

// Adapters carries the infrastructure built outside the repository registry. Only Gateway is
// mandatory; a nil field disables the feature it backs.
type Adapters struct {
	Gateway    payments.Gateway
	Events     services.OrderEventPublisher
	Images     *platformstorage.ProductImages
	Cache      services.ProductPageCache
	Translator services.ProductTranslator
	Logger     services.Logger
	Build      services.BuildInfo
	Clock      func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	// ReportingLocation is the zone admin analytics date-only bounds are read in.
	ReportingLocation *time.Location
}

// NewContainer constructs the runtime dependencies. Tests supply in-memory registries and the
// demo gateway.
func NewContainer(cfg config.Config, reg repositories.Registry, adapters Adapters) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if adapters.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	loc, err := reportingLocation(cfg.Reporting.TimeZone)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(reg, cfg, adapters, loc)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:            cfg,
		Repositories:      reg,
		Services:          svc,
		ReportingLocation: loc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, adapters Adapters, loc *time.Location) (Services, error) {
	var svc Services

	clock := adapters.Clock
	if clock == nil {
		clock = time.Now
	}

	policy := domain.AuthorizeMarkedUpSubtotal
	if raw := strings.TrimSpace(cfg.Payments.AuthorizationPolicy); raw != "" {
		parsed, ok := domain.ParseAuthorizationPolicy(raw)
		if !ok {
			return Services{}, fmt.Errorf("unknown authorization policy %q", raw)
		}
		policy = parsed
	}

	var images services.ProductImageSigner
	if adapters.Images != nil {
		images = productImageSigner{images: adapters.Images}
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products(),
		Translator: adapters.Translator,
		Cache:      adapters.Cache,
		Images:     images,
		Clock:      clock,
		Logger:     adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Products:        reg.Products(),
		Gateway:         adapters.Gateway,
		Policy:          policy,
		ShippingReserve: cfg.Payments.ShippingReserve,
		Logger:          adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:               reg.Orders(),
		Products:             reg.Products(),
		Gateway:              adapters.Gateway,
		UnitOfWork:           reg,
		Events:               adapters.Events,
		Policy:               policy,
		SkipHoldVerification: !cfg.Payments.VerifyHoldOnCreate,
		Clock:                clock,
		Logger:               adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	profitSvc, err := services.NewProfitService(services.ProfitServiceDeps{
		Orders:   reg.Orders(),
		Location: loc,
		Logger:   adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build profit service: %w", err)
	}
	svc.Profit = profitSvc

	adminSvc, err := services.NewAdminUserService(services.AdminUserServiceDeps{
		Users:                reg.AdminUsers(),
		BootstrapSuperAdmins: cfg.Admin.BootstrapSuperAdmins,
		Clock:                clock,
		Logger:               adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin user service: %w", err)
	}
	svc.Admins = adminSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := adapters.Build
		if build.PaymentMode == "" {
			build.PaymentMode = string(adapters.Gateway.Mode())
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func reportingLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load reporting time zone %q: %w", name, err)
	}
	return loc, nil
}

// productImageSigner narrows the storage uploader to the catalog's signing contract.
type productImageSigner struct {
	images *platformstorage.ProductImages
}

func (s productImageSigner) SignProductImageUpload(ctx context.Context, productID, fileName, contentType string) (services.SignedUpload, error) {
	upload, err := s.images.SignUpload(ctx, productID, fileName, contentType)
	if err != nil {
		return services.SignedUpload{}, err
	}
	return services.SignedUpload{
		URL:         upload.URL,
		Method:      upload.Method,
		ObjectPath:  upload.ObjectPath,
		PublicURL:   upload.PublicURL,
		ContentType: contentType,
		ExpiresAt:   upload.ExpiresAt,
		Headers:     upload.Headers,
	}, nil
}

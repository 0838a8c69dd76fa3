package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/repositories"
)

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork

	orders     *OrderRepository
	products   *ProductRepository
	adminUsers *AdminUserRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on one provider. Firestore itself is always probed as a
// critical dependency; extra checks are appended after it.
func NewRegistry(provider *pfirestore.Provider, extraChecks []repositories.DependencyCheck, opts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	uow := pfirestore.NewUnitOfWork(provider, opts...)

	orders, err := NewOrderRepository(provider, uow)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider, uow)
	if err != nil {
		return nil, err
	}
	adminUsers, err := NewAdminUserRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:     "firestore",
		Critical: true,
		Check:    provider.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:   provider,
		uow:        uow,
		orders:     orders,
		products:   products,
		adminUsers: adminUsers,
		health:     health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) AdminUsers() repositories.AdminUserRepository { return r.adminUsers }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx delegates to the shared unit of work so nested repository calls join one transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

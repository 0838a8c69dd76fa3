package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nihonselect/api/internal/domain"
	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/repositories"
)

const adminUsersCollection = "adminUsers"

// AdminUserRepository stores back-office accounts keyed by Firebase uid. Permissions are never
// persisted; they are derived from the role on read by the service layer.
type AdminUserRepository struct {
	base *pfirestore.BaseRepository[adminUserDocument]
}

var _ repositories.AdminUserRepository = (*AdminUserRepository)(nil)

func NewAdminUserRepository(provider *pfirestore.Provider) (*AdminUserRepository, error) {
	if provider == nil {
		return nil, errors.New("admin user repository requires firestore provider")
	}
	return &AdminUserRepository{base: pfirestore.NewBaseRepository[adminUserDocument](provider, adminUsersCollection)}, nil
}

func (r *AdminUserRepository) FindByUID(ctx context.Context, uid string) (domain.AdminUser, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(uid))
	if err != nil {
		return domain.AdminUser{}, err
	}
	return toDomainAdminUser(doc), nil
}

func (r *AdminUserRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.AdminUser], error) {
	var size int
	var pageErr error
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q, size, pageErr = pageQuery(q, pager)
		return q
	})
	if pageErr != nil {
		return domain.CursorPage[domain.AdminUser]{}, pageErr
	}
	if err != nil {
		return domain.CursorPage[domain.AdminUser]{}, err
	}
	return buildPage(docs, size, func(d adminUserDocument) time.Time { return d.CreatedAt }, toDomainAdminUser), nil
}

func (r *AdminUserRepository) Upsert(ctx context.Context, user domain.AdminUser) error {
	uid := strings.TrimSpace(user.UID)
	if uid == "" {
		return errors.New("admin user uid is required")
	}
	return r.base.Set(ctx, uid, adminUserDocument{
		Email:     strings.ToLower(strings.TrimSpace(user.Email)),
		Role:      user.Role,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt.UTC(),
		UpdatedAt: user.UpdatedAt.UTC(),
	})
}

type adminUserDocument struct {
	Email     string    `firestore:"email"`
	Role      string    `firestore:"role"`
	IsActive  bool      `firestore:"isActive"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func toDomainAdminUser(doc pfirestore.Document[adminUserDocument]) domain.AdminUser {
	return domain.AdminUser{
		UID:       doc.ID,
		Email:     doc.Data.Email,
		Role:      doc.Data.Role,
		IsActive:  doc.Data.IsActive,
		CreatedAt: doc.Data.CreatedAt,
		UpdatedAt: doc.Data.UpdatedAt,
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
	"github.com/nihonselect/api/internal/rbac"
	"github.com/nihonselect/api/internal/repositories"
)

const (
	defaultAdminUserPageSize = 50
	maxAdminUserPageSize     = 200
)

var (
	// ErrAdminUserInvalidInput indicates the caller supplied invalid data.
	ErrAdminUserInvalidInput = newKindError(ErrValidation, "admin user: invalid input")
	// ErrAdminUserNotFound indicates no operator exists for the uid.
	ErrAdminUserNotFound = newKindError(ErrNotFound, "admin user: not found")
	// ErrAdminUserForbidden indicates the operator is inactive or lacks the required role.
	ErrAdminUserForbidden = newKindError(ErrForbidden, "admin user: forbidden")
	// ErrAdminUserConflict indicates a concurrent write collided.
	ErrAdminUserConflict = newKindError(ErrConflict, "admin user: conflict")
)

// AdminUserServiceDeps wires the dependencies required by the admin user service.
type AdminUserServiceDeps struct {
	Users repositories.AdminUserRepository
	// BootstrapSuperAdmins lists uids promoted to super_admin on first sign-in when no record exists.
	BootstrapSuperAdmins []string
	Clock                func() time.Time
	Logger               Logger
}

type adminUserService struct {
	users     repositories.AdminUserRepository
	bootstrap map[string]struct{}
	clock     func() time.Time
	logger    Logger
}

var _ AdminUserService = (*adminUserService)(nil)

// NewAdminUserService constructs an AdminUserService.
func NewAdminUserService(deps AdminUserServiceDeps) (AdminUserService, error) {
	if deps.Users == nil {
		return nil, errors.New("admin user service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	bootstrap := make(map[string]struct{}, len(deps.BootstrapSuperAdmins))
	for _, uid := range deps.BootstrapSuperAdmins {
		if uid = strings.TrimSpace(uid); uid != "" {
			bootstrap[uid] = struct{}{}
		}
	}
	return &adminUserService{
		users:     deps.Users,
		bootstrap: bootstrap,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Resolve returns the active operator for uid with permissions derived from the role table.
func (s *adminUserService) Resolve(ctx context.Context, uid string, email string) (AdminUser, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return AdminUser{}, fmt.Errorf("%w: uid is required", ErrAdminUserInvalidInput)
	}

	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			if _, ok := s.bootstrap[uid]; ok {
				return s.bootstrapUser(ctx, uid, email)
			}
		}
		return AdminUser{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserConflict)
	}
	if !user.IsActive {
		return AdminUser{}, fmt.Errorf("%w: %s is deactivated", ErrAdminUserForbidden, uid)
	}
	role, ok := rbac.ParseRole(user.Role)
	if !ok {
		return AdminUser{}, fmt.Errorf("%w: %s has unknown role %q", ErrAdminUserForbidden, uid, user.Role)
	}
	return withPermissions(user, role), nil
}

func (s *adminUserService) List(ctx context.Context, pager Pagination) (domain.CursorPage[AdminUser], error) {
	switch {
	case pager.PageSize <= 0:
		pager.PageSize = defaultAdminUserPageSize
	case pager.PageSize > maxAdminUserPageSize:
		pager.PageSize = maxAdminUserPageSize
	}
	page, err := s.users.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[AdminUser]{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserInvalidInput)
	}
	for i, user := range page.Items {
		role, _ := rbac.ParseRole(user.Role)
		page.Items[i] = withPermissions(user, role)
	}
	return page, nil
}

func (s *adminUserService) Upsert(ctx context.Context, cmd UpsertAdminUserCommand) (AdminUser, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return AdminUser{}, fmt.Errorf("%w: uid is required", ErrAdminUserInvalidInput)
	}
	role, ok := rbac.ParseRole(cmd.Role)
	if !ok {
		return AdminUser{}, fmt.Errorf("%w: unknown role %q", ErrAdminUserInvalidInput, cmd.Role)
	}
	actor, err := s.requireSuperAdmin(ctx, cmd.ActorUID)
	if err != nil {
		return AdminUser{}, err
	}
	if actor.UID == uid && role != rbac.RoleSuperAdmin {
		return AdminUser{}, fmt.Errorf("%w: super admins cannot demote themselves", ErrAdminUserInvalidInput)
	}

	now := s.clock()
	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return AdminUser{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserConflict)
		}
		user = AdminUser{UID: uid, IsActive: true, CreatedAt: now}
	}
	if email := strings.TrimSpace(cmd.Email); email != "" {
		user.Email = strings.ToLower(email)
	}
	previousRole := user.Role
	user.Role = string(role)
	user.Permissions = nil
	user.UpdatedAt = now

	if err := s.users.Upsert(ctx, user); err != nil {
		return AdminUser{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserConflict)
	}
	s.logger(ctx, "admin_users.role.assigned", map[string]any{
		"actor":        actor.UID,
		"uid":          uid,
		"role":         string(role),
		"previousRole": previousRole,
	})
	return withPermissions(user, role), nil
}

func (s *adminUserService) SetActive(ctx context.Context, cmd SetAdminUserActiveCommand) (AdminUser, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return AdminUser{}, fmt.Errorf("%w: uid is required", ErrAdminUserInvalidInput)
	}
	actor, err := s.requireSuperAdmin(ctx, cmd.ActorUID)
	if err != nil {
		return AdminUser{}, err
	}
	if actor.UID == uid && !cmd.Active {
		return AdminUser{}, fmt.Errorf("%w: super admins cannot deactivate themselves", ErrAdminUserInvalidInput)
	}

	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		return AdminUser{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserConflict)
	}
	user.IsActive = cmd.Active
	user.Permissions = nil
	user.UpdatedAt = s.clock()
	if err := s.users.Upsert(ctx, user); err != nil {
		return AdminUser{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserConflict)
	}
	s.logger(ctx, "admin_users.active.changed", map[string]any{
		"actor":  actor.UID,
		"uid":    uid,
		"active": cmd.Active,
	})
	role, _ := rbac.ParseRole(user.Role)
	return withPermissions(user, role), nil
}

func (s *adminUserService) requireSuperAdmin(ctx context.Context, actorUID string) (AdminUser, error) {
	if strings.TrimSpace(actorUID) == "" {
		return AdminUser{}, fmt.Errorf("%w: actor is required", ErrAdminUserForbidden)
	}
	actor, err := s.Resolve(ctx, actorUID, "")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AdminUser{}, fmt.Errorf("%w: actor is not an operator", ErrAdminUserForbidden)
		}
		return AdminUser{}, err
	}
	if actor.Role != string(rbac.RoleSuperAdmin) {
		return AdminUser{}, fmt.Errorf("%w: only super admins manage operators", ErrAdminUserForbidden)
	}
	return actor, nil
}

func (s *adminUserService) bootstrapUser(ctx context.Context, uid, email string) (AdminUser, error) {
	now := s.clock()
	user := AdminUser{
		UID:       uid,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Role:      string(rbac.RoleSuperAdmin),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return AdminUser{}, translateRepositoryError(err, ErrAdminUserNotFound, ErrAdminUserConflict)
	}
	s.logger(ctx, "admin_users.bootstrap", map[string]any{"uid": uid})
	return withPermissions(user, rbac.RoleSuperAdmin), nil
}

func withPermissions(user AdminUser, role rbac.Role) AdminUser {
	user.Permissions = rbac.PermissionsForRole(role)
	return user
}

package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	domain "github.com/nihonselect/api/internal/domain"
)

type memAdminUserRepo struct {
	mu      sync.Mutex
	users   map[string]domain.AdminUser
	upserts int
}

func newMemAdminUserRepo(users ...domain.AdminUser) *memAdminUserRepo {
	repo := &memAdminUserRepo{users: make(map[string]domain.AdminUser)}
	for _, user := range users {
		repo.users[user.UID] = user
	}
	return repo
}

func (r *memAdminUserRepo) FindByUID(_ context.Context, uid string) (domain.AdminUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[uid]
	if !ok {
		return domain.AdminUser{}, notFoundErr(uid)
	}
	return user, nil
}

func (r *memAdminUserRepo) List(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.AdminUser], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.AdminUser
	for _, user := range r.users {
		items = append(items, user)
	}
	slices.SortFunc(items, func(a, b domain.AdminUser) int {
		switch {
		case a.UID < b.UID:
			return -1
		case a.UID > b.UID:
			return 1
		}
		return 0
	})
	return domain.CursorPage[domain.AdminUser]{Items: items}, nil
}

func (r *memAdminUserRepo) Upsert(_ context.Context, user domain.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.users[user.UID] = user
	return nil
}

var adminTestNow = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func newAdminUserFixture(t *testing.T, users ...domain.AdminUser) (AdminUserService, *memAdminUserRepo) {
	t.Helper()
	repo := newMemAdminUserRepo(users...)
	svc, err := NewAdminUserService(AdminUserServiceDeps{
		Users:                repo,
		BootstrapSuperAdmins: []string{"founder"},
		Clock:                func() time.Time { return adminTestNow },
	})
	if err != nil {
		t.Fatalf("NewAdminUserService: %v", err)
	}
	return svc, repo
}

func operator(uid, role string, active bool) domain.AdminUser {
	return domain.AdminUser{UID: uid, Email: uid + "@example.jp", Role: role, IsActive: active, Permissions: []string{"stale:permission"}}
}

func TestAdminUserServiceResolveDerivesPermissions(t *testing.T) {
	svc, _ := newAdminUserFixture(t,
		operator("root", "super_admin", true),
		operator("staff", "general", true),
		operator("gone", "admin", false),
		operator("odd", "owner", true),
	)
	ctx := context.Background()

	staff, err := svc.Resolve(ctx, "staff", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Equal(staff.Permissions, []string{"orders:read", "products:read"}) {
		t.Fatalf("expected permissions from the role table, got %v", staff.Permissions)
	}
	root, err := svc.Resolve(ctx, "root", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Contains(root.Permissions, "users:manage") || slices.Contains(root.Permissions, "stale:permission") {
		t.Fatalf("unexpected super admin permissions %v", root.Permissions)
	}

	if _, err := svc.Resolve(ctx, "gone", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected inactive user to be forbidden, got %v", err)
	}
	if _, err := svc.Resolve(ctx, "odd", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected unknown role to be forbidden, got %v", err)
	}
	if _, err := svc.Resolve(ctx, "stranger", ""); !errors.Is(err, ErrAdminUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdminUserServiceBootstrapsConfiguredSuperAdmin(t *testing.T) {
	svc, repo := newAdminUserFixture(t)

	user, err := svc.Resolve(context.Background(), "founder", "Founder@Example.jp")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.Role != "super_admin" || !user.IsActive || user.Email != "founder@example.jp" {
		t.Fatalf("unexpected bootstrap user %+v", user)
	}
	if repo.upserts != 1 {
		t.Fatalf("expected bootstrap user to be stored")
	}
}

func TestAdminUserServiceUpsertRequiresSuperAdmin(t *testing.T) {
	svc, repo := newAdminUserFixture(t,
		operator("root", "super_admin", true),
		operator("boss", "admin", true),
		operator("staff", "general", true),
	)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, UpsertAdminUserCommand{ActorUID: "boss", UID: "staff", Role: "admin"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected admin to be refused, got %v", err)
	}
	if _, err := svc.Upsert(ctx, UpsertAdminUserCommand{ActorUID: "", UID: "staff", Role: "admin"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected anonymous actor to be refused, got %v", err)
	}
	if _, err := svc.Upsert(ctx, UpsertAdminUserCommand{ActorUID: "root", UID: "staff", Role: "owner"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown role to be rejected, got %v", err)
	}
	if _, err := svc.Upsert(ctx, UpsertAdminUserCommand{ActorUID: "root", UID: "root", Role: "admin"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected self demotion to be rejected, got %v", err)
	}
	if repo.upserts != 0 {
		t.Fatalf("rejected upserts must not write")
	}

	promoted, err := svc.Upsert(ctx, UpsertAdminUserCommand{ActorUID: "root", UID: "staff", Role: "test_mode"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if promoted.Role != "test_mode" || !slices.Contains(promoted.Permissions, "analytics:read") {
		t.Fatalf("unexpected user %+v", promoted)
	}

	created, err := svc.Upsert(ctx, UpsertAdminUserCommand{ActorUID: "root", UID: "newbie", Email: "New@Example.jp", Role: "general"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created.IsActive || !created.CreatedAt.Equal(adminTestNow) || created.Email != "new@example.jp" {
		t.Fatalf("unexpected created user %+v", created)
	}
	if stored := repo.users["newbie"]; stored.Permissions != nil {
		t.Fatalf("permissions must not be stored, got %v", stored.Permissions)
	}
}

func TestAdminUserServiceSetActive(t *testing.T) {
	svc, _ := newAdminUserFixture(t, operator("root", "super_admin", true), operator("staff", "general", true))
	ctx := context.Background()

	if _, err := svc.SetActive(ctx, SetAdminUserActiveCommand{ActorUID: "root", UID: "root", Active: false}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected self deactivation to be rejected, got %v", err)
	}
	user, err := svc.SetActive(ctx, SetAdminUserActiveCommand{ActorUID: "root", UID: "staff", Active: false})
	if err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if user.IsActive {
		t.Fatalf("expected user to be deactivated")
	}
	if _, err := svc.Resolve(ctx, "staff", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected deactivated user to be forbidden, got %v", err)
	}
	if _, err := svc.SetActive(ctx, SetAdminUserActiveCommand{ActorUID: "staff", UID: "root", Active: false}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected inactive actor to be refused, got %v", err)
	}
	if _, err := svc.SetActive(ctx, SetAdminUserActiveCommand{ActorUID: "root", UID: "missing", Active: true}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdminUserServiceListRecomputesPermissions(t *testing.T) {
	svc, _ := newAdminUserFixture(t, operator("a", "admin", true), operator("b", "general", false))

	page, err := svc.List(context.Background(), Pagination{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 || slices.Contains(page.Items[0].Permissions, "stale:permission") {
		t.Fatalf("unexpected page %+v", page.Items)
	}
	if !slices.Contains(page.Items[0].Permissions, "orders:capture") {
		t.Fatalf("expected admin grants, got %v", page.Items[0].Permissions)
	}
}

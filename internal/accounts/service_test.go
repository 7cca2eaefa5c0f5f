package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/authz"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/geocoder89/useradmin/internal/repo/memory"
	"github.com/geocoder89/useradmin/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRevoker struct {
	revoked []string
	err     error
}

func (f *fakeRevoker) RevokeUser(_ context.Context, userID string) error {
	f.revoked = append(f.revoked, userID)
	return f.err
}

type fixture struct {
	svc     *Service
	store   *memory.UsersRepo
	revoker *fakeRevoker
	admin   user.User
	regular user.User
}

func (f fixture) adminSession() *auth.Session {
	s := auth.SessionFor(f.admin)
	return &s
}

func (f fixture) userSession() *auth.Session {
	s := auth.SessionFor(f.regular)
	return &s
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.NewUsersRepo()
	revoker := &fakeRevoker{}
	svc := NewService(store, security.NewPasswordHasher(bcrypt.MinCost), revoker)

	admin, err := svc.create(context.Background(), "Admin User", "admin@example.com", "admin123", user.RoleAdmin)
	require.NoError(t, err)
	regular, err := svc.create(context.Background(), "Test User", "user@example.com", "user123", user.RoleUser)
	require.NoError(t, err)

	return fixture{svc: svc, store: store, revoker: revoker, admin: admin, regular: regular}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Authenticate(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, u.Role)
	assert.Equal(t, user.RoleAdmin, auth.SessionFor(u).Role)

	u, err = f.svc.Authenticate(ctx, "  ADMIN@example.com ", "admin123")
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, u.ID)

	_, err = f.svc.Authenticate(ctx, "admin@example.com", "wrong")
	assert.ErrorIs(t, err, user.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@example.com", "admin123")
	assert.ErrorIs(t, err, user.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, user.ErrInvalidCredentials)
}

func TestCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Current(ctx, f.regular.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", u.Email)

	_, err = f.svc.Current(ctx, "missing")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

type countingHasher struct {
	PasswordHasher
	checks int
}

func (c *countingHasher) Check(hash, plain string) (bool, error) {
	c.checks++
	return c.PasswordHasher.Check(hash, plain)
}

func TestAuthenticate_UnknownEmailStillChecksAHash(t *testing.T) {
	hasher := &countingHasher{PasswordHasher: security.NewPasswordHasher(bcrypt.MinCost)}
	svc := NewService(memory.NewUsersRepo(), hasher, &fakeRevoker{})

	_, err := svc.Authenticate(context.Background(), "ghost@example.com", "whatever")
	assert.ErrorIs(t, err, user.ErrInvalidCredentials)
	assert.Equal(t, 1, hasher.checks)
}

func TestProtectedOperationsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, actor := range map[string]*auth.Session{"anonymous": nil, "regular": f.userSession()} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.List(ctx, actor, ListParams{})
			assert.Error(t, err)

			_, err = f.svc.Create(ctx, actor, CreateInput{Name: "X", Email: "x@example.com", Password: "secret1", Role: "USER"})
			assert.Error(t, err)

			_, err = f.svc.Update(ctx, actor, f.regular.ID, UpdateInput{Email: "changed@example.com", Role: "ADMIN"})
			assert.Error(t, err)

			assert.Error(t, f.svc.Delete(ctx, actor, f.regular.ID))

			_, err = f.svc.Stats(ctx, actor)
			assert.Error(t, err)
		})
	}

	_, err := f.svc.Get(ctx, f.userSession(), f.admin.ID)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	total, err := f.store.CountTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total, "no mutation may happen for unauthorized actors")

	got, err := f.store.GetByID(ctx, f.regular.ID)
	require.NoError(t, err)
	assert.Equal(t, f.regular, got)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Create(ctx, f.adminSession(), CreateInput{Name: "New Person", Email: "New@Example.com", Password: "secret1", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Equal(t, user.RoleAdmin, u.Role)
	assert.NotEqual(t, "secret1", u.PasswordHash)
	assert.NotEmpty(t, u.ID)

	_, err = f.svc.Authenticate(ctx, "new@example.com", "secret1")
	assert.NoError(t, err)
}

func TestCreate_DuplicateEmailLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.adminSession(), CreateInput{Name: "Dup", Email: "user@example.com", Password: "another1", Role: "ADMIN"})
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)

	total, err := f.store.CountTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, err = f.svc.Authenticate(ctx, "user@example.com", "user123")
	assert.NoError(t, err, "original credentials still valid")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"missing name", CreateInput{Email: "a@example.com", Password: "secret1", Role: "USER"}, "name"},
		{"missing email", CreateInput{Name: "A", Password: "secret1", Role: "USER"}, "email"},
		{"bad email", CreateInput{Name: "A", Email: "not-an-email", Password: "secret1", Role: "USER"}, "email"},
		{"missing password", CreateInput{Name: "A", Email: "a@example.com", Role: "USER"}, "password"},
		{"short password", CreateInput{Name: "A", Email: "a@example.com", Password: "123", Role: "USER"}, "password"},
		{"missing role", CreateInput{Name: "A", Email: "a@example.com", Password: "secret1"}, "role"},
		{"unknown role", CreateInput{Name: "A", Email: "a@example.com", Password: "secret1", Role: "ROOT"}, "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), f.adminSession(), tt.in)

			var verr *user.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRegister_AlwaysCreatesRegularUser(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.Register(context.Background(), RegisterInput{Email: "self@example.com", Password: "selfpass"})
	require.NoError(t, err)
	assert.Equal(t, user.RoleUser, u.Role)
	assert.Empty(t, u.Name)
}

func TestUpdate_PasswordOnlyWhenSupplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.store.GetByID(ctx, f.regular.ID)
	require.NoError(t, err)

	u, err := f.svc.Update(ctx, f.adminSession(), f.regular.ID, UpdateInput{Name: "Renamed", Email: "user@example.com", Role: "USER", Password: ""})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", u.Name)
	assert.Equal(t, before.PasswordHash, u.PasswordHash)
	assert.Empty(t, f.revoker.revoked)

	_, err = f.svc.Update(ctx, f.adminSession(), f.regular.ID, UpdateInput{Name: "Renamed", Email: "user@example.com", Role: "USER", Password: "fresh-pass"})
	require.NoError(t, err)

	after, err := f.store.GetByID(ctx, f.regular.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, []string{f.regular.ID}, f.revoker.revoked)

	_, err = f.svc.Authenticate(ctx, "user@example.com", "user123")
	assert.ErrorIs(t, err, user.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "user@example.com", "fresh-pass")
	assert.NoError(t, err)
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, f.adminSession(), "missing", UpdateInput{Email: "m@example.com", Role: "USER"})
	assert.ErrorIs(t, err, user.ErrNotFound)

	_, err = f.svc.Update(ctx, f.adminSession(), f.regular.ID, UpdateInput{Email: "admin@example.com", Role: "USER"})
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)

	_, err = f.svc.Update(ctx, f.adminSession(), f.admin.ID, UpdateInput{Name: "Me", Email: "admin@example.com", Role: "USER"})
	assert.ErrorIs(t, err, user.ErrSelfAction)

	u, err := f.svc.Update(ctx, f.adminSession(), f.admin.ID, UpdateInput{Name: "Me", Email: "admin@example.com", Role: "ADMIN"})
	require.NoError(t, err, "editing own profile without a role change is allowed")
	assert.Equal(t, "Me", u.Name)
}

func TestUpdate_LastAdminCannotBeDemoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a second admin acting on the first while the first is the only other admin
	other, err := f.svc.Create(ctx, f.adminSession(), CreateInput{Name: "Other", Email: "other@example.com", Password: "secret1", Role: "ADMIN"})
	require.NoError(t, err)
	otherSession := auth.SessionFor(other)

	_, err = f.svc.Update(ctx, &otherSession, f.admin.ID, UpdateInput{Email: "admin@example.com", Role: "USER"})
	require.NoError(t, err)
	assert.Equal(t, []string{f.admin.ID}, f.revoker.revoked, "role change revokes refresh tokens")

	// other is now the only admin; a stale admin session cannot demote them
	_, err = f.svc.Update(ctx, f.adminSession(), other.ID, UpdateInput{Email: "other@example.com", Role: "USER"})
	assert.ErrorIs(t, err, user.ErrLastAdmin)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Delete(ctx, f.adminSession(), f.admin.ID), user.ErrSelfAction)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.adminSession(), "missing"), user.ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, f.adminSession(), f.regular.ID))
	assert.Equal(t, []string{f.regular.ID}, f.revoker.revoked)

	_, err := f.store.GetByID(ctx, f.regular.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)

	_, err = f.svc.Authenticate(ctx, "user@example.com", "user123")
	assert.ErrorIs(t, err, user.ErrInvalidCredentials)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 13; i++ {
		i := i
		f.svc.now = func() time.Time { return start.Add(time.Duration(i+1) * time.Minute) }
		_, err := f.svc.Create(ctx, f.adminSession(), CreateInput{
			Name:     fmt.Sprintf("Member %d", i),
			Email:    fmt.Sprintf("member%d@example.com", i),
			Password: "secret1",
			Role:     "USER",
		})
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, f.adminSession(), ListParams{})
	require.NoError(t, err)
	assert.Len(t, page.Users, 10)
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 15, Pages: 2}, page.Pagination)
	assert.Equal(t, "member12@example.com", page.Users[0].Email)
	for i := 1; i < len(page.Users); i++ {
		assert.False(t, page.Users[i].CreatedAt.After(page.Users[i-1].CreatedAt), "createdAt must be descending")
	}

	page, err = f.svc.List(ctx, f.adminSession(), ListParams{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Users, 5)

	page, err = f.svc.List(ctx, f.adminSession(), ListParams{Search: "MEMBER1"})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Pagination.Total) // member1, member10, member11, member12

	_, err = f.svc.List(ctx, f.adminSession(), ListParams{Page: -1})
	var verr *user.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.List(ctx, f.adminSession(), ListParams{Limit: MaxLimit + 1})
	assert.True(t, errors.As(err, &verr))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.svc.now
	f.svc.now = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	_, err := f.svc.Create(ctx, f.adminSession(), CreateInput{Name: "Old", Email: "old@example.com", Password: "secret1", Role: "USER"})
	require.NoError(t, err)
	f.svc.now = old

	stats, err := f.svc.Stats(ctx, f.adminSession())
	require.NoError(t, err)
	assert.Equal(t, user.Stats{TotalUsers: 3, AdminUsers: 1, RegularUsers: 2, RecentUsers: 2}, stats)
}

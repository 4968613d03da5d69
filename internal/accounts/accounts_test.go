package accounts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/jwt"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage/memory"
)

const testSecret = "test-secret"

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id string) {
	r.ids = append(r.ids, id)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T) (*Service, *memory.Storage, *recordingInvalidator) {
	t.Helper()
	store := memory.New()
	inv := &recordingInvalidator{}
	svc := New(config.JWT{Secret: testSecret, TTL: time.Hour}, store, inv, discardLogger())
	return svc, store, inv
}

func bootstrapOwner(t *testing.T, svc *Service) models.User {
	t.Helper()
	owner, err := svc.Bootstrap(context.Background(), NewUser{
		Username: "owner",
		Email:    "Owner@Example.com",
		Password: "owner-pass",
	})
	require.NoError(t, err)
	return owner
}

func TestBootstrap(t *testing.T) {
	svc, store, _ := newService(t)

	owner := bootstrapOwner(t, svc)
	assert.NotEmpty(t, owner.ID)
	assert.Equal(t, models.RoleOwner, owner.Role)
	assert.Equal(t, "owner@example.com", owner.Email)
	assert.Equal(t, 0, owner.Level)
	assert.Nil(t, owner.ParentID)
	assert.True(t, owner.IsActive)

	_, err := svc.Bootstrap(context.Background(), NewUser{Username: "second", Email: "s@example.com", Password: "secret1"})
	require.ErrorIs(t, err, domain.ErrAlreadyBootstrapped)

	count, err := store.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBootstrap_ValidatesInput(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Bootstrap(context.Background(), NewUser{Username: "owner", Email: "o@example.com", Password: "123"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Bootstrap(context.Background(), NewUser{Username: " ", Email: "o@example.com", Password: "123456"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreateUser_Child(t *testing.T) {
	svc, store, _ := newService(t)
	owner := bootstrapOwner(t, svc)

	child, err := svc.CreateUser(context.Background(), auth.IdentityOf(owner), NewUser{
		Username: "child",
		Email:    "Child@Example.com",
		Password: "child-pass",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoleUser, child.Role)
	assert.Equal(t, 1, child.Level)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, owner.ID, *child.ParentID)
	assert.Equal(t, int64(0), child.Balance)
	assert.Equal(t, "child@example.com", child.Email)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(child.PasswordHash), []byte("child-pass")))

	stored, err := store.User(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DownlineCount)

	grandchild, err := svc.CreateUser(context.Background(), auth.IdentityOf(child), NewUser{
		Username: "grandchild",
		Email:    "gc@example.com",
		Password: "gc-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, grandchild.Level)
}

func TestCreateUser_ParentRules(t *testing.T) {
	svc, _, _ := newService(t)
	owner := bootstrapOwner(t, svc)
	ctx := context.Background()

	admin, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{
		Username: "admin", Email: "admin@example.com", Password: "admin-pass", AsAdmin: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.Nil(t, admin.ParentID)
	assert.Equal(t, 0, admin.Level)

	a, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "a", Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	b, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "b", Email: "b@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, auth.IdentityOf(a), NewUser{
		Username: "x", Email: "x@example.com", Password: "secret1", ParentID: b.ID,
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	underB, err := svc.CreateUser(ctx, auth.IdentityOf(admin), NewUser{
		Username: "y", Email: "y@example.com", Password: "secret1", ParentID: b.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, b.ID, *underB.ParentID)
	assert.Equal(t, 2, underB.Level)

	_, err = svc.CreateUser(ctx, auth.IdentityOf(admin), NewUser{
		Username: "z", Email: "z@example.com", Password: "secret1", AsAdmin: true,
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{
		Username: "a", Email: "other@example.com", Password: "secret1",
	})
	require.ErrorIs(t, err, domain.ErrUserExists)

	_, err = svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{
		Username: "other", Email: "A@EXAMPLE.COM", Password: "secret1",
	})
	require.ErrorIs(t, err, domain.ErrUserExists)

	_, err = svc.CreateUser(ctx, auth.IdentityOf(admin), NewUser{
		Username: "w", Email: "w@example.com", Password: "secret1", ParentID: "missing",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLogin(t *testing.T) {
	svc, store, _ := newService(t)
	owner := bootstrapOwner(t, svc)
	ctx := context.Background()

	res, err := svc.Login(ctx, "OWNER@example.com", "owner-pass")
	require.NoError(t, err)
	require.NotNil(t, res.User.LastLogin)

	claims, err := jwt.ParseToken(res.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, claims.UserID)
	assert.Equal(t, models.RoleOwner, claims.Role)

	stored, err := store.User(ctx, owner.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)

	_, err = svc.Login(ctx, "owner@example.com", "wrong-pass")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "owner-pass")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLogin_Inactive(t *testing.T) {
	svc, store, _ := newService(t)
	owner := bootstrapOwner(t, svc)
	ctx := context.Background()

	child, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "c", Email: "c@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, store.SetActive(ctx, child.ID, false))

	_, err = svc.Login(ctx, "c@example.com", "secret1")
	require.ErrorIs(t, err, domain.ErrInactiveUser)
}

func TestToggleStatus(t *testing.T) {
	svc, _, inv := newService(t)
	owner := bootstrapOwner(t, svc)
	ctx := context.Background()

	admin, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "admin", Email: "admin@example.com", Password: "secret1", AsAdmin: true})
	require.NoError(t, err)
	user, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "u", Email: "u@example.com", Password: "secret1"})
	require.NoError(t, err)

	got, err := svc.ToggleStatus(ctx, auth.IdentityOf(admin), user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, []string{user.ID}, inv.ids)

	got, err = svc.ToggleStatus(ctx, auth.IdentityOf(admin), user.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	_, err = svc.ToggleStatus(ctx, auth.IdentityOf(admin), admin.ID)
	require.ErrorIs(t, err, domain.ErrSelfOperationForbidden)

	_, err = svc.ToggleStatus(ctx, auth.IdentityOf(admin), owner.ID)
	require.ErrorIs(t, err, domain.ErrSelfOperationForbidden)

	_, err = svc.ToggleStatus(ctx, auth.IdentityOf(user), admin.ID)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = svc.ToggleStatus(ctx, auth.IdentityOf(admin), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeChildPassword(t *testing.T) {
	svc, store, inv := newService(t)
	owner := bootstrapOwner(t, svc)
	ctx := context.Background()

	issued := time.Now().UTC().Add(-time.Minute)
	svc.now = func() time.Time { return issued }

	child, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "c", Email: "c@example.com", Password: "secret1"})
	require.NoError(t, err)
	grandchild, err := svc.CreateUser(ctx, auth.IdentityOf(child), NewUser{Username: "g", Email: "g@example.com", Password: "secret1"})
	require.NoError(t, err)

	old, err := svc.Login(ctx, "c@example.com", "secret1")
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(30 * time.Second) }
	require.NoError(t, svc.ChangeChildPassword(ctx, auth.IdentityOf(owner), child.ID, "new-secret"))
	assert.Equal(t, []string{child.ID}, inv.ids)

	_, err = svc.Login(ctx, "c@example.com", "secret1")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "c@example.com", "new-secret")
	require.NoError(t, err)

	resolver := auth.NewResolver(testSecret, store, auth.NewMapCache(), discardLogger())
	_, err = resolver.Resolve(ctx, old.Token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	err = svc.ChangeChildPassword(ctx, auth.IdentityOf(owner), grandchild.ID, "new-secret")
	require.ErrorIs(t, err, domain.ErrUnauthorizedRelation)

	err = svc.ChangeChildPassword(ctx, auth.IdentityOf(owner), child.ID, "123")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAdminViews(t *testing.T) {
	svc, store, _ := newService(t)
	owner := bootstrapOwner(t, svc)
	ctx := context.Background()

	a, err := svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, auth.IdentityOf(owner), NewUser{Username: "bob", Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, auth.IdentityOf(a), NewUser{Username: "alina", Email: "alina@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, store.SetBalance(ctx, a.ID, 700))
	require.NoError(t, store.SetBalance(ctx, owner.ID, 300))

	page, err := svc.ListUsers(ctx, auth.IdentityOf(owner), UserQuery{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Users, 2)
	assert.Equal(t, models.Pagination{Page: 1, Limit: 2, Total: 4, Pages: 2}, page.Pagination)
	assert.Equal(t, "alina", page.Users[0].Username)

	page, err = svc.ListUsers(ctx, auth.IdentityOf(owner), UserQuery{Search: "ALI"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Pagination.Total)

	next, err := svc.NextLevelUsers(ctx, auth.IdentityOf(owner))
	require.NoError(t, err)
	assert.Len(t, next, 2)

	sum, err := svc.BalanceSummary(ctx, auth.IdentityOf(owner))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Summary.TotalUsers)
	assert.Equal(t, int64(1000), sum.Summary.TotalBalance)
	assert.Equal(t, int64(700), sum.Summary.MaxBalance)
	assert.Equal(t, int64(0), sum.Summary.MinBalance)
	require.Len(t, sum.ByLevel, 3)
	assert.Equal(t, 2, sum.ByLevel[1].UserCount)
	require.NotEmpty(t, sum.TopUsers)
	assert.Equal(t, a.ID, sum.TopUsers[0].ID)

	_, err = svc.ListUsers(ctx, auth.IdentityOf(a), UserQuery{})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	_, err = svc.BalanceSummary(ctx, auth.IdentityOf(a))
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

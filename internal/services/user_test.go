package services

import (
	"context"
	"strings"
	"testing"

	"github.com/accountkit/authserver/internal/auth"
	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/metrics"
	"github.com/accountkit/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRegisterSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, err := env.service.Register(ctx, "a", "a@x.com", "p")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)

	account, err := env.store.GetByUsername(ctx, "a")
	require.NoError(t, err)
	assert.NotEqual(t, "p", account.User.PasswordHash)
	assert.Equal(t, types.RoleDefaultUser, account.Profile.Role)
	assert.Equal(t, account.User.ID, account.Profile.UserID)

	access, err := env.tokens.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.User.ID, access.UserID)
	assert.Equal(t, "a", access.Username)

	refresh, err := env.tokens.Verify(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refresh.Type)
	assert.Equal(t, account.User.ID, refresh.UserID)

	assert.Equal(t, []events.Type{events.UserRegistered}, env.publisher.eventTypes())
	assert.Equal(t, "a@x.com", env.publisher.last().Data["email"])
}

func TestRegisterDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "testuser", "test@example.com", "testpass123")

	_, err := env.service.Register(ctx, "testuser", "different@example.com", "newpass123")
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = env.service.Register(ctx, "differentuser", "test@example.com", "newpass123")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, "  ", "a@x.com", "p")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.Register(ctx, "a", "a@x.com", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.Register(ctx, "a", "a@x.com", strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterRejectsOverlongFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.Register(ctx, strings.Repeat("u", types.MaxUsernameLength+1), "u@x.com", "p")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.Register(ctx, "u", strings.Repeat("e", types.MaxEmailLength)+"@x.com", "p")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.store.GetByUsername(ctx, "u")
	assert.Error(t, err)

	_, err = env.service.Register(ctx, strings.Repeat("u", types.MaxUsernameLength), "u@x.com", "p")
	assert.NoError(t, err)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, WithMetrics(metrics.New()))
	ctx := context.Background()
	account := env.register(t, "a", "a@x.com", "p")

	pair, err := env.service.Login(ctx, "a", "p")
	require.NoError(t, err)
	claims, err := env.tokens.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.User.ID, claims.UserID)

	_, err = env.service.Login(ctx, "a", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.service.Login(ctx, "nobody", "p")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Contains(t, env.publisher.eventTypes(), events.UserLoggedIn)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a", "a@x.com", "p")

	pair, err := env.service.Login(ctx, "a", "p")
	require.NoError(t, err)

	fresh, err := env.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

	// The old refresh token is not revoked.
	_, err = env.service.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "a", "a@x.com", "p")

	pair, err := env.service.Login(ctx, "a", "p")
	require.NoError(t, err)

	_, err = env.service.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)

	_, err = env.service.Refresh(ctx, "invalid_token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	require.NoError(t, env.store.Delete(ctx, account.User.ID))
	_, err = env.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "a", "a@x.com", "p")

	view, err := env.service.GetProfile(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, types.ProfileView{
		ID:       account.User.ID,
		Username: "a",
		Email:    "a@x.com",
		Role:     types.RoleDefaultUser,
	}, view)
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "a", "a@x.com", "p")

	view := env.service.CurrentUser(account)
	assert.Equal(t, account.User.ID, view.ID)
	assert.Equal(t, "a", view.Username)
	assert.Equal(t, types.RoleDefaultUser, view.Role)
}

func TestUpdateProfileOnlyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "a", "a@x.com", "p")

	_, err := env.service.UpdateProfile(ctx, account, types.ProfileUpdate{
		Bio:    strPtr("hello"),
		Mobile: strPtr("+1234567890"),
	})
	require.NoError(t, err)

	view, err := env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Email: strPtr("x@y.com")})
	require.NoError(t, err)
	assert.Equal(t, "x@y.com", view.Email)
	assert.Equal(t, "hello", view.Bio)
	assert.Equal(t, "+1234567890", view.Mobile)
	assert.Equal(t, types.RoleDefaultUser, view.Role)
}

func TestUpdateProfileAllFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "testuser", "test@example.com", "testpass123")

	view, err := env.service.UpdateProfile(ctx, account, types.ProfileUpdate{
		Email:     strPtr("updated@example.com"),
		FirstName: strPtr("Updated"),
		LastName:  strPtr("Name"),
		Bio:       strPtr("Updated bio"),
		Mobile:    strPtr("+1234567890"),
		Role:      strPtr("manager"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.ProfileView{
		ID:        account.User.ID,
		Username:  "testuser",
		Email:     "updated@example.com",
		FirstName: "Updated",
		LastName:  "Name",
		Bio:       "Updated bio",
		Mobile:    "+1234567890",
		Role:      types.RoleManager,
	}, view)

	stored, err := env.store.GetByID(ctx, account.User.ID)
	require.NoError(t, err)
	assert.True(t, stored.Profile.IsManager())

	assert.Equal(t,
		[]events.Type{events.UserRegistered, events.ProfileUpdated, events.RoleChanged},
		env.publisher.eventTypes(),
	)
}

func TestUpdateProfileEmptyFieldsAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "a", "a@x.com", "p")

	_, err := env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Bio: strPtr("keep me")})
	require.NoError(t, err)

	view, err := env.service.UpdateProfile(ctx, account, types.ProfileUpdate{
		Email: strPtr(""),
		Bio:   strPtr(""),
		Role:  strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", view.Email)
	assert.Equal(t, "keep me", view.Bio)
	assert.Equal(t, types.RoleDefaultUser, view.Role)
}

func TestUpdateProfileWhitespaceFieldsAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.register(t, "first", "first@example.com", "p")
	second := env.register(t, "second", "second@example.com", "p")

	view, err := env.service.UpdateProfile(ctx, first, types.ProfileUpdate{
		Email:     strPtr("   "),
		FirstName: strPtr("\t"),
	})
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", view.Email)
	assert.Empty(t, view.FirstName)

	view, err = env.service.UpdateProfile(ctx, second, types.ProfileUpdate{Email: strPtr("  ")})
	require.NoError(t, err)
	assert.Equal(t, "second@example.com", view.Email)

	view, err = env.service.UpdateProfile(ctx, second, types.ProfileUpdate{Email: strPtr("  new@example.com ")})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", view.Email)
}

func TestUpdateProfileValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "testuser", "test@example.com", "testpass123")
	env.register(t, "otheruser", "other@example.com", "otherpass123")

	_, err := env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Email: strPtr("other@example.com")})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Role: strPtr("admin")})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Bio: strPtr(strings.Repeat("b", types.MaxBioLength+1))})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Mobile: strPtr(strings.Repeat("1", types.MaxMobileLength+1))})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{FirstName: strPtr(strings.Repeat("f", types.MaxNameLength+1))})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{LastName: strPtr(strings.Repeat("l", types.MaxNameLength+1))})
	assert.ErrorIs(t, err, ErrInvalidInput)

	longEmail := strings.Repeat("e", types.MaxEmailLength) + "@x.com"
	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Email: strPtr(longEmail)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	stored, err := env.store.GetByID(ctx, account.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", stored.User.Email)
	assert.Empty(t, stored.User.FirstName)

	// Keeping one's own email is not a conflict.
	_, err = env.service.UpdateProfile(ctx, account, types.ProfileUpdate{Email: strPtr("test@example.com")})
	assert.NoError(t, err)
}

func TestListUsersNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "first", "first@example.com", "p")
	env.register(t, "second", "second@example.com", "p")

	views, err := env.service.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "second", views[0].Username)
	assert.Equal(t, "first", views[1].Username)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "a", "a@x.com", "p")
	pair, err := env.service.Login(ctx, "a", "p")
	require.NoError(t, err)

	assert.Equal(t, "Successfully logged out", env.service.Logout(ctx, account))

	// Tokens stay valid after logout.
	_, err = env.tokens.Verify(pair.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, events.UserLoggedOut, env.publisher.last().Type)
}

func TestSetRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "a", "a@x.com", "p")

	view, err := env.service.SetRole(ctx, "a", types.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, types.RoleManager, view.Role)

	event := env.publisher.last()
	assert.Equal(t, events.RoleChanged, event.Type)
	assert.Equal(t, "default_user", event.Data["from"])
	assert.Equal(t, "manager", event.Data["to"])

	_, err = env.service.SetRole(ctx, "a", types.Role("root"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.service.SetRole(ctx, "ghost", types.RoleManager)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

package store

import (
	"context"
	"testing"

	"github.com/accountkit/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserRepositoryUniqueness(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, types.User{Username: "a", Email: "a@x.com"}, types.RoleDefaultUser)
	require.NoError(t, err)

	_, err = repo.Create(ctx, types.User{Username: "a", Email: "other@x.com"}, types.RoleDefaultUser)
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = repo.Create(ctx, types.User{Username: "b", Email: "a@x.com"}, types.RoleDefaultUser)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	exists, err := repo.EmailExists(ctx, "a@x.com", 0)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.EmailExists(ctx, "a@x.com", 1)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryUserRepositoryUpdateAndDelete(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	account, err := repo.Create(ctx, types.User{Username: "a", Email: "a@x.com"}, types.RoleDefaultUser)
	require.NoError(t, err)
	other, err := repo.Create(ctx, types.User{Username: "b", Email: "b@x.com"}, types.RoleDefaultUser)
	require.NoError(t, err)

	account.Profile.Role = types.RoleManager
	account.Profile.Bio = "hi"
	updated, err := repo.Update(ctx, account)
	require.NoError(t, err)
	assert.True(t, updated.Profile.IsManager())
	assert.Equal(t, account.Profile.CreatedAt, updated.Profile.CreatedAt)

	other.User.Email = "a@x.com"
	_, err = repo.Update(ctx, other)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	require.NoError(t, repo.Delete(ctx, account.User.ID))
	_, err = repo.GetByID(ctx, account.User.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, account.User.ID), ErrNotFound)
}

func TestMemoryUserRepositoryListNewestFirst(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := repo.Create(ctx, types.User{Username: name, Email: name + "@x.com"}, types.RoleDefaultUser)
		require.NoError(t, err)
	}

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "third", accounts[0].User.Username)
	assert.Equal(t, "second", accounts[1].User.Username)
	assert.Equal(t, "first", accounts[2].User.Username)
}

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleManager.Valid())
	assert.True(t, RoleDefaultUser.Valid())
	assert.False(t, Role("admin").Valid())
	assert.False(t, Role("").Valid())
}

func TestAccountView(t *testing.T) {
	account := Account{
		User: User{
			ID:           7,
			Username:     "alice",
			Email:        "alice@example.com",
			FirstName:    "Alice",
			LastName:     "Liddell",
			PasswordHash: "hash",
		},
		Profile: Profile{UserID: 7, Bio: "bio", Mobile: "+100", Role: RoleManager},
	}

	view := account.View()

	assert.Equal(t, ProfileView{
		ID:        7,
		Username:  "alice",
		Email:     "alice@example.com",
		FirstName: "Alice",
		LastName:  "Liddell",
		Bio:       "bio",
		Mobile:    "+100",
		Role:      RoleManager,
	}, view)
	assert.True(t, account.Profile.IsManager())
}

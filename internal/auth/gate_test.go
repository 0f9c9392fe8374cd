package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/accountkit/authserver/internal/store"
	"github.com/accountkit/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAccounts struct {
	accounts map[int64]types.Account
	err      error
}

func (s stubAccounts) GetByID(_ context.Context, id int64) (types.Account, error) {
	if s.err != nil {
		return types.Account{}, s.err
	}
	account, ok := s.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func accountWithRole(id int64, username string, role types.Role) types.Account {
	return types.Account{
		User:    types.User{ID: id, Username: username},
		Profile: types.Profile{UserID: id, Role: role},
	}
}

func TestGateAuthenticate(t *testing.T) {
	tokens := newTestTokens(t, time.Now)
	accounts := stubAccounts{accounts: map[int64]types.Account{
		1: accountWithRole(1, "manager", types.RoleManager),
		2: accountWithRole(2, "regular", types.RoleDefaultUser),
	}}

	managerPair, err := tokens.Issue(accounts.accounts[1].User)
	require.NoError(t, err)
	regularPair, err := tokens.Issue(accounts.accounts[2].User)
	require.NoError(t, err)
	ghostPair, err := tokens.Issue(types.User{ID: 99, Username: "ghost"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		allow   RolePredicate
		token   string
		wantID  int64
		wantErr bool
	}{
		{name: "any role manager", allow: AnyRole, token: managerPair.AccessToken, wantID: 1},
		{name: "any role regular", allow: nil, token: regularPair.AccessToken, wantID: 2},
		{name: "manager only admits manager", allow: ManagerOnly, token: managerPair.AccessToken, wantID: 1},
		{name: "manager only rejects regular", allow: ManagerOnly, token: regularPair.AccessToken, wantErr: true},
		{name: "default user only admits regular", allow: DefaultUserOnly, token: regularPair.AccessToken, wantID: 2},
		{name: "default user only rejects manager", allow: DefaultUserOnly, token: managerPair.AccessToken, wantErr: true},
		{name: "garbage token", allow: AnyRole, token: "invalid_token", wantErr: true},
		{name: "refresh token", allow: AnyRole, token: regularPair.RefreshToken, wantErr: true},
		{name: "deleted user", allow: AnyRole, token: ghostPair.AccessToken, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(tokens, accounts, tt.allow)
			account, err := gate.Authenticate(context.Background(), tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, account.User.ID)
		})
	}
}

func TestGateStorageFailureIsNotUnauthenticated(t *testing.T) {
	tokens := newTestTokens(t, time.Now)
	pair, err := tokens.Issue(types.User{ID: 1, Username: "bob"})
	require.NoError(t, err)

	boom := errors.New("connection refused")
	gate := NewGate(tokens, stubAccounts{err: boom}, AnyRole)

	_, err = gate.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/accountkit/authserver/internal/store"
	"github.com/accountkit/authserver/types"
)

// ErrUnauthenticated covers every gate rejection: bad or expired token,
// unknown user and role mismatch.
var ErrUnauthenticated = errors.New("unauthenticated")

// AccountLoader resolves an account by id, creating a missing profile.
type AccountLoader interface {
	GetByID(ctx context.Context, id int64) (types.Account, error)
}

// RolePredicate decides whether a role may pass a gate.
type RolePredicate func(role types.Role) bool

func AnyRole(types.Role) bool { return true }

func ManagerOnly(role types.Role) bool { return role == types.RoleManager }

func DefaultUserOnly(role types.Role) bool { return role != types.RoleManager }

// Gate authenticates bearer tokens and enforces a role predicate.
type Gate struct {
	tokens   *TokenService
	accounts AccountLoader
	allow    RolePredicate
}

// NewGate builds a gate. A nil predicate admits any authenticated account.
func NewGate(tokens *TokenService, accounts AccountLoader, allow RolePredicate) *Gate {
	if allow == nil {
		allow = AnyRole
	}
	return &Gate{tokens: tokens, accounts: accounts, allow: allow}
}

// Authenticate resolves the account behind an access token. Token, user and
// role failures are reported as ErrUnauthenticated; storage failures are
// returned as is.
func (g *Gate) Authenticate(ctx context.Context, token string) (types.Account, error) {
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return types.Account{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.IsRefresh() {
		return types.Account{}, fmt.Errorf("%w: %v", ErrUnauthenticated, ErrWrongTokenType)
	}
	if claims.UserID < 1 {
		return types.Account{}, fmt.Errorf("%w: missing user id", ErrUnauthenticated)
	}

	account, err := g.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, fmt.Errorf("%w: user %d not found", ErrUnauthenticated, claims.UserID)
		}
		return types.Account{}, fmt.Errorf("load user %d: %w", claims.UserID, err)
	}
	if !g.allow(account.Profile.Role) {
		return types.Account{}, fmt.Errorf("%w: role %q not allowed", ErrUnauthenticated, account.Profile.Role)
	}
	return account, nil
}

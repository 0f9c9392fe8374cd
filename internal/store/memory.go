package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/accountkit/authserver/types"
)

// MemoryUserRepository keeps accounts in process memory. It mirrors the
// uniqueness and ordering rules of UserRepository and is meant for tests
// and local runs without Postgres.
type MemoryUserRepository struct {
	mu       sync.Mutex
	accounts map[int64]types.Account
	nextID   int64
	now      func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		accounts: make(map[int64]types.Account),
		now:      time.Now,
	}
}

func (m *MemoryUserRepository) GetByID(_ context.Context, id int64) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

func (m *MemoryUserRepository) GetByUsername(_ context.Context, username string) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.User.Username == username {
			return account, nil
		}
	}
	return types.Account{}, ErrNotFound
}

func (m *MemoryUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := m.GetByUsername(ctx, username)
	return err == nil, nil
}

func (m *MemoryUserRepository) EmailExists(_ context.Context, email string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, account := range m.accounts {
		if id != excludeID && account.User.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// Create stores the user with a profile of the given role. Creation times
// are strictly increasing so List order is deterministic.
func (m *MemoryUserRepository) Create(_ context.Context, user types.User, role types.Role) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.User.Username == user.Username {
			return types.Account{}, ErrDuplicateUsername
		}
		if account.User.Email == user.Email {
			return types.Account{}, ErrDuplicateEmail
		}
	}
	m.nextID++
	now := m.now().Add(time.Duration(m.nextID) * time.Millisecond)
	user.ID = m.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	account := types.Account{
		User:    user,
		Profile: types.Profile{UserID: user.ID, Role: role, CreatedAt: now, UpdatedAt: now},
	}
	m.accounts[user.ID] = account
	return account, nil
}

func (m *MemoryUserRepository) Update(_ context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.accounts[account.User.ID]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	for id, other := range m.accounts {
		if id != account.User.ID && other.User.Email == account.User.Email {
			return types.Account{}, ErrDuplicateEmail
		}
	}
	now := m.now()
	account.User.CreatedAt = existing.User.CreatedAt
	account.Profile.UserID = account.User.ID
	account.Profile.CreatedAt = existing.Profile.CreatedAt
	account.User.UpdatedAt = now
	account.Profile.UpdatedAt = now
	m.accounts[account.User.ID] = account
	return account, nil
}

// List returns accounts newest profile first.
func (m *MemoryUserRepository) List(context.Context) ([]types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := make([]types.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Profile.CreatedAt.Equal(accounts[j].Profile.CreatedAt) {
			return accounts[i].User.ID > accounts[j].User.ID
		}
		return accounts[i].Profile.CreatedAt.After(accounts[j].Profile.CreatedAt)
	})
	return accounts, nil
}

func (m *MemoryUserRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

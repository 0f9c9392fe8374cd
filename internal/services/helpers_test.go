package services

import (
	"context"
	"sync"
	"testing"

	"github.com/accountkit/authserver/internal/auth"
	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/store"
	"github.com/accountkit/authserver/types"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) eventTypes() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type testEnv struct {
	store     *store.MemoryUserRepository
	tokens    *auth.TokenService
	publisher *recordingPublisher
	service   *AccountService
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret")
	require.NoError(t, err)

	env := &testEnv{
		store:     store.NewMemoryUserRepository(),
		tokens:    tokens,
		publisher: &recordingPublisher{},
	}
	opts = append([]Option{WithBcryptCost(4), WithEvents(env.publisher)}, opts...)
	env.service = NewAccountService(env.store, tokens, opts...)
	return env
}

// register creates an account and returns it as the gate would resolve it.
func (e *testEnv) register(t *testing.T, username, email, password string) types.Account {
	t.Helper()
	ctx := context.Background()
	_, err := e.service.Register(ctx, username, email, password)
	require.NoError(t, err)
	account, err := e.store.GetByUsername(ctx, username)
	require.NoError(t, err)
	return account
}

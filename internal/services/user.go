package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/accountkit/authserver/internal/auth"
	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/metrics"
	"github.com/accountkit/authserver/internal/storage"
	"github.com/accountkit/authserver/internal/store"
	"github.com/accountkit/authserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	LogoutMessage = "Successfully logged out"

	maxPasswordLength = 72 // bcrypt limit
)

// UserRepository defines persistence operations for accounts.
// Lookups create a missing profile on the fly.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.Account, error)
	GetByUsername(ctx context.Context, username string) (types.Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string, excludeID int64) (bool, error)
	Create(ctx context.Context, user types.User, role types.Role) (types.Account, error)
	Update(ctx context.Context, account types.Account) (types.Account, error)
	List(ctx context.Context) ([]types.Account, error)
}

// EventPublisher receives account lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) {}

// AccountService encapsulates the account use-cases.
type AccountService struct {
	repo       UserRepository
	tokens     *auth.TokenService
	events     EventPublisher
	metrics    *metrics.Metrics
	avatars    *storage.Storage
	bcryptCost int
	dummyHash  []byte
}

// Option customizes an AccountService.
type Option func(*AccountService)

func WithEvents(publisher EventPublisher) Option {
	return func(s *AccountService) {
		if publisher != nil {
			s.events = publisher
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AccountService) { s.metrics = m }
}

// WithAvatarStorage enables avatar uploads.
func WithAvatarStorage(st *storage.Storage) Option {
	return func(s *AccountService) { s.avatars = st }
}

// WithBcryptCost sets the password hashing cost. Out of range values keep
// bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *AccountService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func NewAccountService(repo UserRepository, tokens *auth.TokenService, opts ...Option) *AccountService {
	s := &AccountService{
		repo:       repo,
		tokens:     tokens,
		events:     nopPublisher{},
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Compared against on unknown usernames so both login failures cost a
	// bcrypt comparison.
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.bcryptCost)
	return s
}

// Register creates the user and its profile atomically and issues tokens.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (types.TokenPair, error) {
	pair, err := s.register(ctx, username, email, password)
	s.metrics.ObserveAuth("register", resultOf(err, ErrDuplicateUsername, ErrDuplicateEmail, ErrInvalidInput))
	return pair, err
}

func (s *AccountService) register(ctx context.Context, username, email, password string) (types.TokenPair, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return types.TokenPair{}, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if len(password) > maxPasswordLength {
		return types.TokenPair{}, fmt.Errorf("%w: password too long", ErrInvalidInput)
	}
	if err := checkLength("username", username, types.MaxUsernameLength); err != nil {
		return types.TokenPair{}, err
	}
	if err := checkLength("email", email, types.MaxEmailLength); err != nil {
		return types.TokenPair{}, err
	}

	exists, err := s.repo.UsernameExists(ctx, username)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return types.TokenPair{}, ErrDuplicateUsername
	}
	exists, err = s.repo.EmailExists(ctx, email, 0)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return types.TokenPair{}, ErrDuplicateEmail
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
	}, types.RoleDefaultUser)
	if err != nil {
		return types.TokenPair{}, translateStoreError(err, "create user")
	}

	pair, err := s.tokens.Issue(account.User)
	if err != nil {
		return types.TokenPair{}, err
	}

	s.events.Publish(ctx, events.New(events.UserRegistered, account.User.ID, account.User.Username, map[string]string{
		"email": account.User.Email,
	}))
	return pair, nil
}

// Login verifies credentials. Unknown users and wrong passwords both fail
// with ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, username, password string) (types.TokenPair, error) {
	pair, err := s.login(ctx, username, password)
	s.metrics.ObserveAuth("login", resultOf(err, ErrInvalidCredentials))
	return pair, err
}

func (s *AccountService) login(ctx context.Context, username, password string) (types.TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return types.TokenPair{}, ErrInvalidCredentials
	}

	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return types.TokenPair{}, ErrInvalidCredentials
		}
		return types.TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.User.PasswordHash), []byte(password)); err != nil {
		return types.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(account.User)
	if err != nil {
		return types.TokenPair{}, err
	}

	s.events.Publish(ctx, events.New(events.UserLoggedIn, account.User.ID, account.User.Username, nil))
	return pair, nil
}

// Refresh mints a new pair from a refresh token. The presented token stays
// valid until it expires.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken)
	s.metrics.ObserveAuth("refresh", resultOf(err, auth.ErrWrongTokenType, ErrInvalidRefreshToken))
	return pair, err
}

func (s *AccountService) refresh(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		if errors.Is(err, auth.ErrWrongTokenType) {
			return types.TokenPair{}, auth.ErrWrongTokenType
		}
		return types.TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	account, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, ErrUserNotFound)
		}
		return types.TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	pair, err := s.tokens.Issue(account.User)
	if err != nil {
		return types.TokenPair{}, err
	}

	s.events.Publish(ctx, events.New(events.TokenRefreshed, account.User.ID, account.User.Username, map[string]string{
		"jti": claims.ID,
	}))
	return pair, nil
}

// GetProfile returns the merged user and profile view.
func (s *AccountService) GetProfile(ctx context.Context, account types.Account) (types.ProfileView, error) {
	fresh, err := s.repo.GetByID(ctx, account.User.ID)
	if err != nil {
		return types.ProfileView{}, translateStoreError(err, "load profile")
	}
	return fresh.View(), nil
}

// UpdateProfile overwrites each field that is present and non-empty in
// update. Empty strings leave the stored value untouched.
func (s *AccountService) UpdateProfile(ctx context.Context, account types.Account, update types.ProfileUpdate) (types.ProfileView, error) {
	view, err := s.updateProfile(ctx, account, update)
	s.metrics.ObserveAuth("update_profile", resultOf(err, ErrDuplicateEmail, ErrInvalidInput, ErrInvalidRole))
	return view, err
}

func (s *AccountService) updateProfile(ctx context.Context, account types.Account, update types.ProfileUpdate) (types.ProfileView, error) {
	current, err := s.repo.GetByID(ctx, account.User.ID)
	if err != nil {
		return types.ProfileView{}, translateStoreError(err, "load profile")
	}

	var changed []string
	previousRole := current.Profile.Role

	if email, ok := provided(update.Email); ok {
		if err := checkLength("email", email, types.MaxEmailLength); err != nil {
			return types.ProfileView{}, err
		}
		taken, err := s.repo.EmailExists(ctx, email, current.User.ID)
		if err != nil {
			return types.ProfileView{}, fmt.Errorf("check email: %w", err)
		}
		if taken {
			return types.ProfileView{}, ErrDuplicateEmail
		}
		current.User.Email = email
		changed = append(changed, "email")
	}
	if firstName, ok := provided(update.FirstName); ok {
		if err := checkLength("first_name", firstName, types.MaxNameLength); err != nil {
			return types.ProfileView{}, err
		}
		current.User.FirstName = firstName
		changed = append(changed, "first_name")
	}
	if lastName, ok := provided(update.LastName); ok {
		if err := checkLength("last_name", lastName, types.MaxNameLength); err != nil {
			return types.ProfileView{}, err
		}
		current.User.LastName = lastName
		changed = append(changed, "last_name")
	}
	if bio, ok := provided(update.Bio); ok {
		if err := checkLength("bio", bio, types.MaxBioLength); err != nil {
			return types.ProfileView{}, err
		}
		current.Profile.Bio = bio
		changed = append(changed, "bio")
	}
	if mobile, ok := provided(update.Mobile); ok {
		if err := checkLength("mobile", mobile, types.MaxMobileLength); err != nil {
			return types.ProfileView{}, err
		}
		current.Profile.Mobile = mobile
		changed = append(changed, "mobile")
	}
	if role, ok := provided(update.Role); ok {
		r := types.Role(role)
		if !r.Valid() {
			return types.ProfileView{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
		current.Profile.Role = r
		changed = append(changed, "role")
	}

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return types.ProfileView{}, translateStoreError(err, "update profile")
	}

	s.events.Publish(ctx, events.New(events.ProfileUpdated, updated.User.ID, updated.User.Username, map[string]string{
		"fields": strings.Join(changed, ","),
	}))
	if updated.Profile.Role != previousRole {
		s.publishRoleChange(ctx, updated, previousRole)
	}
	return updated.View(), nil
}

// CurrentUser returns the account the gate resolved for this request.
func (s *AccountService) CurrentUser(account types.Account) types.ProfileView {
	return account.View()
}

// ListUsers returns every account, newest first.
func (s *AccountService) ListUsers(ctx context.Context) ([]types.ProfileView, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	views := make([]types.ProfileView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, account.View())
	}
	return views, nil
}

// Logout only acknowledges the request; issued tokens stay valid until they
// expire.
func (s *AccountService) Logout(ctx context.Context, account types.Account) string {
	s.events.Publish(ctx, events.New(events.UserLoggedOut, account.User.ID, account.User.Username, nil))
	return LogoutMessage
}

// SetRole assigns role to the named user.
func (s *AccountService) SetRole(ctx context.Context, username string, role types.Role) (types.ProfileView, error) {
	if !role.Valid() {
		return types.ProfileView{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	account, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return types.ProfileView{}, translateStoreError(err, "load user")
	}
	previousRole := account.Profile.Role
	if previousRole == role {
		return account.View(), nil
	}

	account.Profile.Role = role
	updated, err := s.repo.Update(ctx, account)
	if err != nil {
		return types.ProfileView{}, translateStoreError(err, "update role")
	}
	s.publishRoleChange(ctx, updated, previousRole)
	return updated.View(), nil
}

func (s *AccountService) publishRoleChange(ctx context.Context, account types.Account, previous types.Role) {
	s.events.Publish(ctx, events.New(events.RoleChanged, account.User.ID, account.User.Username, map[string]string{
		"from": string(previous),
		"to":   string(account.Profile.Role),
	}))
}

// provided returns the trimmed value and whether it is non-empty.
func provided(value *string) (string, bool) {
	if value == nil {
		return "", false
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidInput, field, max)
	}
	return nil
}

func translateStoreError(err error, action string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, store.ErrDuplicateUsername):
		return ErrDuplicateUsername
	case errors.Is(err, store.ErrDuplicateEmail):
		return ErrDuplicateEmail
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

// resultOf classifies err for metrics: nil is a success, expected errors
// are failures and everything else is an error.
func resultOf(err error, expected ...error) string {
	if err == nil {
		return metrics.ResultSuccess
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			return metrics.ResultFailure
		}
	}
	return metrics.ResultError
}

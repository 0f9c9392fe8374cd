package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/accountkit/authserver/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeRefresh = "refresh"
)

var (
	ErrExpiredToken   = errors.New("token expired")
	ErrMalformedToken = errors.New("malformed token")
	ErrWrongTokenType = errors.New("invalid token type")
)

// Claims is the payload of both access and refresh tokens. Access tokens carry
// Username, refresh tokens carry Type="refresh" and a random ID (jti).
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Type     string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// IsRefresh reports whether the claims belong to a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.Type == tokenTypeRefresh
}

// TokenService issues and validates HS256 tokens signed with a shared secret.
// It keeps no state besides its configuration.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowFunc    func() time.Time
	parser     *jwt.Parser
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithTTL overrides the access and refresh lifetimes. Non-positive values keep
// the defaults.
func WithTTL(access, refresh time.Duration) TokenOption {
	return func(s *TokenService) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	s := &TokenService{
		secret:     []byte(secret),
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(s.nowFunc),
	)
	return s, nil
}

// Issue signs a fresh access and refresh token for user.
func (s *TokenService) Issue(user types.User) (types.TokenPair, error) {
	now := s.nowFunc()

	access := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	refresh := Claims{
		UserID: user.ID,
		Type:   tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}

	accessToken, err := s.sign(access)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.sign(refresh)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return types.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    types.TokenTypeBearer,
	}, nil
}

func (s *TokenService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of tokenString. Expired tokens fail
// with ErrExpiredToken, everything else with ErrMalformedToken.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !token.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// VerifyRefresh verifies tokenString and requires the refresh marker.
func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

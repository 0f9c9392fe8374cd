package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/accountkit/authserver/internal/auth"
	"github.com/accountkit/authserver/internal/metrics"
	"github.com/accountkit/authserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuthHandler provides the account endpoints under /auth.
type AuthHandler struct {
	accounts      *services.AccountService
	authenticated *auth.Gate
	managers      *auth.Gate
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewAuthHandler constructs an AuthHandler. authenticated admits any valid
// account, managers admits manager accounts only.
func NewAuthHandler(
	accounts *services.AccountService,
	authenticated *auth.Gate,
	managers *auth.Gate,
	logger *zap.Logger,
	m *metrics.Metrics,
) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		accounts:      accounts,
		authenticated: authenticated,
		managers:      managers,
		logger:        logger,
		metrics:       m,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	requireAccount := RequireAccount(h.authenticated, h.logger, h.metrics)
	requireManager := RequireAccount(h.managers, h.logger, h.metrics)

	r.Post("/login", h.Login)
	r.Post("/register", h.Register)
	r.Post("/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(requireAccount)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
		r.Post("/logout", h.Logout)
		r.Get("/user/me", h.Me)
		if h.accounts.AvatarsEnabled() {
			r.Put("/profile/avatar", h.UploadAvatar)
			r.Get("/profile/avatar", h.DownloadAvatar)
		}
	})

	r.With(requireManager).Get("/users", h.ListUsers)
}

// RequireAccount authenticates the bearer token with gate and injects the
// resolved account into the request context.
func RequireAccount(gate *auth.Gate, logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				m.ObserveGateRejection()
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			account, err := gate.Authenticate(r.Context(), tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
					m.ObserveGateRejection()
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				logger.Error("authenticate request", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
				return
			}

			next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), account)))
		})
	}
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pair, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Register creates a new account and returns a token pair.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pair, err := h.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	pair, err := h.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Logout acknowledges the request. Tokens are not revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: h.accounts.Logout(r.Context(), account)})
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// writeServiceError maps service errors onto HTTP responses. Auth failures
// are 401, conflicts and validation errors 400, anything else 500.
func (h *AuthHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrWrongTokenType):
		writeError(w, http.StatusUnauthorized, "invalid token type")
	case errors.Is(err, services.ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "username already exists")
	case errors.Is(err, services.ErrDuplicateEmail):
		writeError(w, http.StatusBadRequest, "email already exists")
	case errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrUnsupportedAvatar):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrAvatarNotFound):
		writeError(w, http.StatusNotFound, "avatar not found")
	case errors.Is(err, services.ErrAvatarsDisabled):
		writeError(w, http.StatusServiceUnavailable, "avatar storage unavailable")
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

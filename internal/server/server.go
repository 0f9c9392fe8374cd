package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/accountkit/authserver/config"
	"github.com/accountkit/authserver/internal/auth"
	"github.com/accountkit/authserver/internal/db"
	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/handlers"
	"github.com/accountkit/authserver/internal/logging"
	"github.com/accountkit/authserver/internal/metrics"
	"github.com/accountkit/authserver/internal/mq"
	"github.com/accountkit/authserver/internal/services"
	"github.com/accountkit/authserver/internal/storage"
	"github.com/accountkit/authserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	logger     *zap.Logger
}

// Dependencies are the long-lived resources a Server is built from.
type Dependencies struct {
	DB       *sql.DB
	Accounts services.UserRepository
	Loader   auth.AccountLoader
	Queue    *mq.MQ
	Avatars  *storage.Storage
}

// New opens the database, message queue and object storage from cfg and
// constructs a Server around them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queue, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	avatars, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		if queue != nil {
			_ = queue.Close()
		}
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	repo := store.NewUserRepository(dbConn)
	srv, err := NewWithDependencies(cfg, logger, Dependencies{
		DB:       dbConn,
		Accounts: repo,
		Loader:   repo,
		Queue:    queue,
		Avatars:  avatars,
	})
	if err != nil {
		_ = dbConn.Close()
		if queue != nil {
			_ = queue.Close()
		}
		return nil, err
	}
	return srv, nil
}

// NewWithDependencies wires routes and middleware around already opened
// resources.
func NewWithDependencies(cfg config.Config, logger *zap.Logger, deps Dependencies) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Accounts == nil || deps.Loader == nil {
		return nil, errors.New("account repository is required")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret,
		auth.WithTTL(cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL),
	)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	opts := []services.Option{
		services.WithMetrics(m),
		services.WithBcryptCost(cfg.Auth.BcryptCost),
		services.WithEvents(events.NewPublisher(deps.Queue, cfg.MQ.Channel, logger, m)),
	}
	if deps.Avatars != nil {
		opts = append(opts, services.WithAvatarStorage(deps.Avatars))
	}
	accounts := services.NewAccountService(deps.Accounts, tokens, opts...)

	authHandler := handlers.NewAuthHandler(accounts,
		auth.NewGate(tokens, deps.Loader, auth.AnyRole),
		auth.NewGate(tokens, deps.Loader, auth.ManagerOnly),
		logger, m,
	)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.Middleware(logger),
		m.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.Timeout(60*time.Second),
	)

	var pinger handlers.Pinger
	if deps.DB != nil {
		pinger = deps.DB
	}
	router.Get("/healthz", handlers.Healthz(pinger))
	router.Handle("/metrics", m.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         deps.DB,
		queue:      deps.Queue,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the database and queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.queue != nil {
		if qerr := s.queue.Close(); qerr != nil {
			s.logger.Warn("close message queue", zap.Error(qerr))
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

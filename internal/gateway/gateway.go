// ABOUTME: Gateway orchestrator wiring store, relay, conversation service and HTTP server
// ABOUTME: Owns startup, routing, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/dedupe"
	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/store"
)

// dedupeWindow is how long a message correlation id stays recognized, so a
// frame re-sent after a reconnect is dropped instead of persisted twice.
const dedupeWindow = 2 * time.Minute

// Gateway orchestrates the parley server components: the persistence store,
// the in-process relay, the conversation service and the HTTP server that
// carries both the REST API and the websocket endpoint.
type Gateway struct {
	config        *config.Config
	store         store.Store
	registry      *relay.Registry
	broadcaster   *relay.Broadcaster
	presence      *relay.Presence
	conversations *conversation.Service
	authenticator *auth.Authenticator
	verifier      *auth.JWTVerifier
	dedupe        *dedupe.Cache
	httpServer    *http.Server
	logger        *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return s, nil
}

// resolveJWTSecret returns the signing secret from config or environment.
func resolveJWTSecret(cfg *config.Config) ([]byte, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = os.Getenv("PARLEY_JWT_SECRET")
	}
	if secret == "" {
		return nil, errors.New("jwt secret required: set auth.jwt_secret in config or PARLEY_JWT_SECRET environment variable")
	}
	return []byte(secret), nil
}

// New creates a Gateway from configuration, wiring every component.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	secret, err := resolveJWTSecret(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := relay.NewRegistry(logger)
	broadcaster := relay.NewBroadcaster(registry, logger)
	verifier := auth.NewJWTVerifier(secret)

	g := &Gateway{
		config:        cfg,
		store:         st,
		registry:      registry,
		broadcaster:   broadcaster,
		presence:      relay.NewPresence(broadcaster, logger),
		conversations: conversation.New(st, broadcaster, logger),
		authenticator: auth.NewAuthenticator(st, verifier, logger),
		verifier:      verifier,
		dedupe:        dedupe.New(dedupeWindow, 8192),
		logger:        logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// routes builds the HTTP router: public customer endpoints, token-protected
// attendant endpoints, the websocket endpoint and health checks.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	allowedOrigins := g.config.CORS.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Get("/ws", g.handleSocket)

	r.Route("/api", func(r chi.Router) {
		// Customer-facing: possession of a conversation id is the credential.
		r.Post("/auth/login", g.handleLogin)
		r.Post("/conversations", g.handleCreateConversation)
		r.Get("/conversations/{id}", g.handleGetConversation)
		r.Get("/conversations/{id}/messages", g.handleListMessages)
		r.Post("/conversations/{id}/messages", g.handlePostMessage)

		// Attendant-facing: requires a session token.
		r.Group(func(r chi.Router) {
			r.Use(auth.HTTPAuthMiddleware(g.store, g.verifier))
			r.Get("/conversations", g.handleListConversations)
			r.Post("/conversations/{id}/assign", g.handleAssignConversation)
			r.Patch("/conversations/{id}/status", g.handleSetStatus)
			r.Get("/leads", g.handleListLeads)
			r.Get("/stats", g.handleStats)
		})
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.httpServer.Addr, err)
	}

	g.logger.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serverErr = err
		}
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, disconnects every live session and closes
// the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Error("http server shutdown failed", "error", err)
		firstErr = err
	}

	g.registry.Close()
	g.dedupe.Close()

	if err := g.store.Close(); err != nil {
		g.logger.Error("store close failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	g.logger.Info("gateway stopped")
	return firstErr
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers queries.
	if _, err := g.store.ListConversations(r.Context()); err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

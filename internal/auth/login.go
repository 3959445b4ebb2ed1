// ABOUTME: Attendant credential verification and session token issuance
// ABOUTME: Marks the attendant online on successful login

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/internal/store"
)

// ErrBadCredentials is returned for unknown usernames and wrong passwords
// alike, so callers cannot probe which usernames exist.
var ErrBadCredentials = errors.New("invalid username or password")

// tokenTTL is the lifetime of issued session tokens.
const tokenTTL = 12 * time.Hour

// Authenticator verifies attendant credentials and issues session tokens.
type Authenticator struct {
	store    store.Store
	verifier *JWTVerifier
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator. Pass nil logger for default.
func NewAuthenticator(st store.Store, verifier *JWTVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:    st,
		verifier: verifier,
		logger:   logger.With("component", "auth"),
	}
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Token     string
	Attendant *store.Attendant
}

// Login checks the username/password pair against the store and, on success,
// marks the attendant online and returns a signed session token. The online
// flag is sticky: it is set here and never cleared on disconnect.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	att, err := a.store.GetAttendantByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("failed to look up attendant: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(att.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	token, err := a.verifier.Generate(att.ID, tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := a.store.SetAttendantOnline(ctx, att.ID, true); err != nil {
		a.logger.Warn("failed to mark attendant online",
			"attendant_id", att.ID,
			"error", err)
	}

	a.logger.Info("attendant logged in",
		"attendant_id", att.ID,
		"username", att.Username)

	return &LoginResult{Token: token, Attendant: att}, nil
}

// HashPassword produces a bcrypt hash for storing attendant credentials.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

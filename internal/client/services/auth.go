package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/balancesync/internal/client/client"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/settings"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

// AuthService defines authentication operations for the shell.
//
// Contract:
//   - SignUp / SignIn: authenticate against the server, persist the session
//     locally and make its user the owner of new messages.
//   - Restore: reload a persisted session after a restart, offline included.
//   - SignOut: end the remote session (best effort) and wipe local data.
type AuthService interface {
	SignUp(ctx context.Context, email string, password []byte) (*client.Session, error)
	SignIn(ctx context.Context, email string, password []byte) (*client.Session, error)
	Restore(ctx context.Context) (*client.Session, error)
	SignOut(ctx context.Context) error
}

// SessionHolder receives the session used to authorise remote calls.
type SessionHolder interface {
	SetSession(s *client.Session)
}

// Account is the part of the engine tied to the signed-in user.
type Account interface {
	SetUser(ctx context.Context, userID string) error
	Logout(ctx context.Context) error
	RequestSync()
}

// Forgetter drops in-memory cached views.
type Forgetter interface {
	Forget()
}

type authService struct {
	auth     client.Authenticator
	holder   SessionHolder
	settings settings.Repository
	account  Account
	cache    Forgetter
	logger   logging.Logger
}

// NewAuthService wires authentication to the local settings store and the
// engine. cache may be nil.
func NewAuthService(auth client.Authenticator, holder SessionHolder, st settings.Repository, account Account, cache Forgetter, logger logging.Logger) AuthService {
	return &authService{
		auth:     auth,
		holder:   holder,
		settings: st,
		account:  account,
		cache:    cache,
		logger:   logger.With("component", "auth"),
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	return email, nil
}

func (a *authService) SignUp(ctx context.Context, email string, password []byte) (*client.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", common.ErrValidation)
	}
	s, err := a.auth.SignUp(ctx, email, string(password))
	if err != nil {
		return nil, fmt.Errorf("sign up error: %w", err)
	}
	return s, a.establish(ctx, s)
}

func (a *authService) SignIn(ctx context.Context, email string, password []byte) (*client.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	s, err := a.auth.SignIn(ctx, email, string(password))
	if err != nil {
		return nil, fmt.Errorf("sign in error: %w", err)
	}
	return s, a.establish(ctx, s)
}

// establish persists s and hands it to the transport and the engine.
func (a *authService) establish(ctx context.Context, s *client.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := a.settings.Set(ctx, settings.KeySession, data); err != nil {
		return fmt.Errorf("session saving error: %w", err)
	}
	if err := a.account.SetUser(ctx, s.UserID); err != nil {
		return fmt.Errorf("session saving error: %w", err)
	}
	a.holder.SetSession(s)
	a.account.RequestSync()
	a.logger.Info(ctx, "signed in", "user_id", s.UserID)
	return nil
}

// Restore returns common.ErrUnauthorized when no session was saved.
func (a *authService) Restore(ctx context.Context) (*client.Session, error) {
	data, err := a.settings.Get(ctx, settings.KeySession)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, common.ErrUnauthorized
	}
	var s client.Session
	if err := json.Unmarshal(data, &s); err != nil {
		a.logger.Warn(ctx, "discarding unreadable session", "error", err)
		_ = a.settings.Delete(ctx, settings.KeySession)
		return nil, common.ErrUnauthorized
	}
	a.holder.SetSession(&s)
	return &s, nil
}

// SignOut always wipes local data, even when the server cannot be told.
func (a *authService) SignOut(ctx context.Context) error {
	if err := a.auth.SignOut(ctx); err != nil {
		a.logger.Warn(ctx, "remote sign out failed", "error", err)
	}
	a.holder.SetSession(nil)
	if a.cache != nil {
		a.cache.Forget()
	}
	if err := a.account.Logout(ctx); err != nil {
		return fmt.Errorf("wipe local data: %w", err)
	}
	return nil
}

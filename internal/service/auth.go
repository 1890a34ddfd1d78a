// Package service contains the auth session manager: it orchestrates
// login, logout, registration and refresh against the request pipeline
// and the credential store, and exposes the current session state.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/and161185/appkit/internal/errs"
	"github.com/and161185/appkit/internal/model"
	"github.com/and161185/appkit/internal/netclient"
	"github.com/and161185/appkit/internal/storage"
	"go.uber.org/zap"
)

// Endpoint paths consumed by the session manager. The base URL comes
// from configuration.
const (
	pathLogin         = "/auth/login"
	pathLogout        = "/auth/logout"
	pathRegister      = "/auth/register"
	pathRefreshToken  = "/auth/refresh-token"
	pathResetPassword = "/auth/reset-password"
	pathProfile       = "/user/profile"
	pathUpdateUser    = "/user/update"
)

// AuthService defines the session operations the app builds on.
type AuthService interface {
	// Login authenticates, persists the returned credentials and moves
	// the session to authenticated.
	Login(ctx context.Context, creds model.Credentials) (*model.User, error)
	// Logout best-effort notifies the server, then unconditionally
	// clears local credentials.
	Logout(ctx context.Context) error
	// Register creates an account; same shape as Login.
	Register(ctx context.Context, params model.RegisterParams) (*model.User, error)
	// RefreshToken exchanges the stored refresh token for new
	// credentials; on failure the store is cleared and the error re-raised.
	RefreshToken(ctx context.Context) error
	// CheckAuth reports whether a usable token exists, refreshing an
	// expired one on the way.
	CheckAuth(ctx context.Context) bool
	// UpdateUser applies a partial update and persists the server's
	// returned full record.
	UpdateUser(ctx context.Context, patch map[string]any) (*model.User, error)
	// ResetPassword requests a password reset with a verification code.
	ResetPassword(ctx context.Context, params model.ResetPasswordParams) error
	// Profile fetches and caches the current user record.
	Profile(ctx context.Context) (*model.User, error)
	// Bootstrap restores the session from the store once per process.
	// It never returns an error: any failure degrades to unauthenticated.
	Bootstrap(ctx context.Context)
	// Session returns a snapshot of the current session state.
	Session() model.Session
}

type AuthServiceImpl struct {
	client *netclient.Client
	creds  *storage.Credentials
	log    *zap.Logger

	mu      sync.RWMutex
	session model.Session
}

var _ AuthService = (*AuthServiceImpl)(nil)
var _ netclient.AuthHooks = (*AuthServiceImpl)(nil)

// NewAuthService constructs the session manager and binds it to the
// pipeline as its credential strategy.
func NewAuthService(client *netclient.Client, creds *storage.Credentials, log *zap.Logger) *AuthServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	s := &AuthServiceImpl{
		client:  client,
		creds:   creds,
		log:     log,
		session: model.Session{Status: model.StatusIdle},
	}
	client.SetAuthHooks(s)
	return s
}

// Login authenticates against the login endpoint. A 401 here means bad
// credentials; the request skips bearer injection and refresh interception.
func (s *AuthServiceImpl) Login(ctx context.Context, creds model.Credentials) (*model.User, error) {
	return s.authenticate(ctx, pathLogin, creds)
}

// Register creates an account and starts a session, same shape as Login.
func (s *AuthServiceImpl) Register(ctx context.Context, params model.RegisterParams) (*model.User, error) {
	return s.authenticate(ctx, pathRegister, params)
}

func (s *AuthServiceImpl) authenticate(ctx context.Context, path string, body any) (*model.User, error) {
	s.setStatus(model.StatusLoading)

	var res model.LoginResult
	env, err := s.client.Do(ctx, netclient.Request{
		Method:   http.MethodPost,
		Path:     path,
		Body:     body,
		SkipAuth: true,
	}, &res)
	if err != nil {
		s.setUnauthenticated()
		return nil, err
	}
	if !env.OK() {
		s.setUnauthenticated()
		return nil, fmt.Errorf("%w: %s (code %d)", errs.ErrUnauthorized, env.Message, env.Code)
	}

	if err := s.creds.SaveTokens(ctx, res.Token); err != nil {
		s.setUnauthenticated()
		return nil, fmt.Errorf("persist tokens: %w", err)
	}
	if err := s.creds.SaveUser(ctx, &res.User); err != nil {
		s.setUnauthenticated()
		return nil, fmt.Errorf("persist user: %w", err)
	}

	s.setAuthenticated(&res.User, res.Token.AccessToken)
	s.log.Info("session authenticated", zap.String("user", res.User.ID))
	return &res.User, nil
}

// Logout notifies the server (failure swallowed and logged), then
// unconditionally clears the credential store.
func (s *AuthServiceImpl) Logout(ctx context.Context) error {
	s.setStatus(model.StatusLoading)

	if _, err := s.client.Post(ctx, pathLogout, nil, nil); err != nil {
		s.log.Warn("logout endpoint failed, clearing local session anyway", zap.Error(err))
	}

	err := s.creds.ClearAll(ctx)
	s.setUnauthenticated()
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.log.Info("session cleared")
	return nil
}

// RefreshToken posts the stored refresh token and persists the result.
// On any failure the credential store is cleared and the error re-raised.
func (s *AuthServiceImpl) RefreshToken(ctx context.Context) error {
	rt, ok := s.creds.RefreshToken(ctx)
	if !ok {
		_ = s.creds.ClearAll(ctx)
		return errs.ErrNoRefreshToken
	}

	var tok model.TokenInfo
	env, err := s.client.Do(ctx, netclient.Request{
		Method:   http.MethodPost,
		Path:     pathRefreshToken,
		Body:     map[string]string{"refreshToken": rt},
		SkipAuth: true,
	}, &tok)
	if err == nil && !env.OK() {
		err = fmt.Errorf("%w: %s (code %d)", errs.ErrUnauthorized, env.Message, env.Code)
	}
	if err != nil {
		_ = s.creds.ClearAll(ctx)
		return fmt.Errorf("refresh token: %w", err)
	}

	if err := s.creds.SaveTokens(ctx, tok); err != nil {
		return fmt.Errorf("persist refreshed tokens: %w", err)
	}
	s.mirrorAccessToken(tok.AccessToken)
	s.log.Debug("access token refreshed")
	return nil
}

// CheckAuth reports whether the stored token is usable: present and
// either inside its validity window or successfully refreshed.
func (s *AuthServiceImpl) CheckAuth(ctx context.Context) bool {
	if _, ok := s.creds.AccessToken(ctx); !ok {
		return false
	}
	if !s.creds.IsTokenExpired(ctx) {
		return true
	}
	if err := s.RefreshToken(ctx); err != nil {
		s.log.Debug("checkAuth refresh failed", zap.Error(err))
		return false
	}
	return true
}

// UpdateUser PUTs a partial update and persists the returned full record.
func (s *AuthServiceImpl) UpdateUser(ctx context.Context, patch map[string]any) (*model.User, error) {
	var u model.User
	env, err := s.client.Put(ctx, pathUpdateUser, patch, &u)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		return nil, fmt.Errorf("update rejected: %s (code %d)", env.Message, env.Code)
	}
	if err := s.creds.SaveUser(ctx, &u); err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}
	s.mirrorUser(&u)
	return &u, nil
}

// Profile fetches the current user record and refreshes the cache.
func (s *AuthServiceImpl) Profile(ctx context.Context) (*model.User, error) {
	var u model.User
	env, err := s.client.Get(ctx, pathProfile, &u)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		return nil, fmt.Errorf("profile rejected: %s (code %d)", env.Message, env.Code)
	}
	if err := s.creds.SaveUser(ctx, &u); err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}
	s.mirrorUser(&u)
	return &u, nil
}

// ResetPassword requests a reset; it needs no session.
func (s *AuthServiceImpl) ResetPassword(ctx context.Context, params model.ResetPasswordParams) error {
	env, err := s.client.Do(ctx, netclient.Request{
		Method:   http.MethodPost,
		Path:     pathResetPassword,
		Body:     params,
		SkipAuth: true,
	}, nil)
	if err != nil {
		return err
	}
	if !env.OK() {
		return fmt.Errorf("reset rejected: %s (code %d)", env.Message, env.Code)
	}
	return nil
}

// Bootstrap restores the session from the store. Runs once per process
// lifetime; every failure path resolves the status, never leaving it at
// loading.
func (s *AuthServiceImpl) Bootstrap(ctx context.Context) {
	s.setStatus(model.StatusLoading)

	tok, okTok := s.creds.AccessToken(ctx)
	user, okUser := s.creds.User(ctx)
	if !okTok || !okUser {
		s.setUnauthenticated()
		s.log.Debug("no stored session")
		return
	}
	if !s.CheckAuth(ctx) {
		_ = s.creds.ClearAll(ctx)
		s.setUnauthenticated()
		s.log.Info("stored session unusable, cleared")
		return
	}
	// a refresh inside CheckAuth may have rotated the token
	if rotated, ok := s.creds.AccessToken(ctx); ok {
		tok = rotated
	}
	s.setAuthenticated(user, tok)
	s.log.Info("session restored", zap.String("user", user.ID))
}

// Session returns a snapshot of the current session state.
func (s *AuthServiceImpl) Session() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// --- netclient.AuthHooks ---

// Token implements the pipeline's credential accessor.
func (s *AuthServiceImpl) Token(ctx context.Context) (string, error) {
	tok, _ := s.creds.AccessToken(ctx)
	return tok, nil
}

// Refresh implements the pipeline's refresh hook.
func (s *AuthServiceImpl) Refresh(ctx context.Context) error {
	return s.RefreshToken(ctx)
}

// SessionExpired implements the pipeline's termination callback: local
// cleanup only, the server already considers the session dead.
func (s *AuthServiceImpl) SessionExpired() {
	_ = s.creds.ClearAll(context.Background())
	s.setUnauthenticated()
	s.log.Info("session expired")
}

// --- session state ---

func (s *AuthServiceImpl) setStatus(st model.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Status = st
}

func (s *AuthServiceImpl) setAuthenticated(u *model.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = model.Session{Status: model.StatusAuthenticated, User: u, AccessToken: token}
}

func (s *AuthServiceImpl) setUnauthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = model.Session{Status: model.StatusUnauthenticated}
}

func (s *AuthServiceImpl) mirrorAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status == model.StatusAuthenticated {
		s.session.AccessToken = token
	}
}

func (s *AuthServiceImpl) mirrorUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Status == model.StatusAuthenticated {
		s.session.User = u
	}
}

// Package auth holds the credential the request gateway attaches to every
// call and the account operations that produce or consume it.
package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/endpoints"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// API is the subset of the gateway the service calls.
type API interface {
	Get(ctx context.Context, path string, opts ...gateway.RequestOption) (*gateway.Result, error)
	Post(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Result, error)
	Put(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Result, error)
}

// Service signs users in and out and keeps the current user record.
//
// Account calls are never deferred to the offline queue: a login or token
// refresh that cannot reach the backend fails immediately.
type Service struct {
	api    API
	tokens *TokenStore
	store  kvstore.Store
	log    zerolog.Logger

	mu   sync.RWMutex
	user *User
}

// NewService wires the service to the gateway and the shared token store.
func NewService(api API, tokens *TokenStore, store kvstore.Store, log zerolog.Logger) *Service {
	return &Service{
		api:    api,
		tokens: tokens,
		store:  store,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

// LoadStored restores a previous session. Both the token and the user record
// must be present; otherwise the service starts signed out.
func (s *Service) LoadStored(ctx context.Context) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("error loading stored auth")
		return err
	}
	var user User
	ok, err := kvstore.GetJSON(ctx, s.store, UserKey, &user)
	if err != nil {
		s.log.Error().Err(err).Msg("error loading stored auth")
		return err
	}
	if token == "" || !ok {
		return nil
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	s.log.Info().Str("user", user.ID).Msg("loaded stored authentication")
	return nil
}

// Login exchanges credentials for a token and stores both.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	resp, err := gateway.DecodeResult[AuthResponse](
		s.api.Post(ctx, endpoints.AuthLogin, req, gateway.WithoutQueue()),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("login error")
		return nil, err
	}
	if err := s.storeAuthData(ctx, resp, req.RememberMe); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and signs it in with remember-me set.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	resp, err := gateway.DecodeResult[AuthResponse](
		s.api.Post(ctx, endpoints.AuthRegister, req, gateway.WithoutQueue()),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("registration error")
		return nil, err
	}
	remember := true
	if err := s.storeAuthData(ctx, resp, &remember); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout tells the backend and clears local auth data. The local clear
// happens even when the backend call fails.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := s.api.Post(ctx, endpoints.AuthLogout, nil, gateway.WithoutQueue()); err != nil {
		s.log.Warn().Err(err).Msg("logout api error")
	}
	return s.clearAuthData(ctx)
}

// RefreshToken asks the backend for a new token and stores it.
func (s *Service) RefreshToken(ctx context.Context) (string, error) {
	resp, err := gateway.DecodeResult[tokenResponse](
		s.api.Post(ctx, endpoints.AuthRefresh, nil, gateway.WithoutQueue()),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("token refresh error")
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("auth: refresh returned an empty token")
	}
	if err := s.tokens.SaveToken(ctx, resp.Token); err != nil {
		s.log.Error().Err(err).Msg("failed to persist refreshed token")
	}
	return resp.Token, nil
}

// Session fetches the current user from the backend. It returns
// ErrNotAuthenticated without a network call when no token is stored.
func (s *Service) Session(ctx context.Context) (*User, error) {
	if !s.IsAuthenticated(ctx) {
		return nil, ErrNotAuthenticated
	}
	resp, err := gateway.DecodeResult[sessionResponse](
		s.api.Get(ctx, endpoints.AuthSession, gateway.WithoutQueue()),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("session error")
		return nil, err
	}
	s.setUser(ctx, resp.User)
	u := resp.User
	return &u, nil
}

// ForgotPassword starts a password reset and returns the backend message.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	resp, err := gateway.DecodeResult[messageResponse](
		s.api.Post(ctx, endpoints.AuthForgotPassword, map[string]string{"email": email}, gateway.WithoutQueue()),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("forgot password error")
		return "", err
	}
	return resp.Message, nil
}

// ResetPassword completes a reset with the emailed token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	body := map[string]string{"token": token, "password": newPassword}
	resp, err := gateway.DecodeResult[messageResponse](
		s.api.Post(ctx, endpoints.AuthResetPassword, body, gateway.WithoutQueue()),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("reset password error")
		return "", err
	}
	return resp.Message, nil
}

// UpdateProfile applies partial updates to a user and stores the result.
func (s *Service) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (*User, error) {
	path := endpoints.Expand(endpoints.UserProfile, map[string]string{"userId": userID})
	user, err := gateway.DecodeResult[User](s.api.Put(ctx, path, updates, gateway.WithoutQueue()))
	if err != nil {
		s.log.Error().Err(err).Msg("update profile error")
		return nil, err
	}
	s.setUser(ctx, user)
	return &user, nil
}

// IsAuthenticated reports whether a token is stored.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	token, err := s.tokens.Token(ctx)
	return err == nil && token != ""
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *Service) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// RememberMe returns the stored remember-me preference.
func (s *Service) RememberMe(ctx context.Context) bool {
	raw, ok, err := s.store.Get(ctx, RememberMeKey)
	if err != nil || !ok {
		return false
	}
	v, _ := strconv.ParseBool(raw)
	return v
}

// TokenExpiry reads the exp claim of the stored token without verifying its
// signature. Opaque tokens and tokens without exp report false.
func (s *Service) TokenExpiry(ctx context.Context) (time.Time, bool) {
	token, err := s.tokens.Token(ctx)
	if err != nil || token == "" {
		return time.Time{}, false
	}
	return tokenExpiry(token)
}

// HandleUnauthorized drops the local user record after the gateway cleared
// the token on a 401.
func (s *Service) HandleUnauthorized(ctx context.Context) {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	if err := s.store.Delete(ctx, UserKey); err != nil {
		s.log.Error().Err(err).Msg("failed to clear user data")
	}
	s.log.Info().Msg("session invalidated by server")
}

func (s *Service) storeAuthData(ctx context.Context, resp AuthResponse, rememberMe *bool) error {
	if resp.Token == "" {
		return errors.New("auth: response carried no token")
	}
	s.mu.Lock()
	u := resp.User
	s.user = &u
	s.mu.Unlock()

	var errs []error
	if err := s.tokens.SaveToken(ctx, resp.Token); err != nil {
		errs = append(errs, err)
	}
	if err := kvstore.SetJSON(ctx, s.store, UserKey, resp.User); err != nil {
		errs = append(errs, err)
	}
	if rememberMe != nil {
		if err := s.store.Set(ctx, RememberMeKey, strconv.FormatBool(*rememberMe)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Error().Stack().Err(err).Msg("failed to persist auth data")
		return nil
	}
	s.log.Info().Str("user", resp.User.ID).Msg("authentication data stored")
	return nil
}

func (s *Service) clearAuthData(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()

	tokenErr := s.tokens.ClearToken(ctx)
	storeErr := s.store.Delete(ctx, UserKey)
	if err := errors.Join(tokenErr, storeErr); err != nil {
		s.log.Error().Err(err).Msg("failed to clear auth data")
		return err
	}
	s.log.Info().Msg("authentication data cleared")
	return nil
}

func (s *Service) setUser(ctx context.Context, user User) {
	s.mu.Lock()
	u := user
	s.user = &u
	s.mu.Unlock()
	if err := kvstore.SetJSON(ctx, s.store, UserKey, user); err != nil {
		s.log.Error().Err(err).Msg("failed to persist user data")
	}
}

func tokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Package auth resolves portal sessions and runs the login/logout flow.
//
// Admin sessions are provider access tokens kept in a cookie and validated
// against the provider. Directory (non-admin) accounts get a server-signed
// session cookie instead.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/metrics"
	"github.com/phucdat/portal/backend/internal/model/account"
	"github.com/phucdat/portal/backend/internal/service/authprovider"
	"github.com/phucdat/portal/backend/internal/storage/cache"
)

var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrNoSession          = errors.New("no valid session")
	ErrForbidden          = errors.New("admin role required")
)

// Provider is the subset of the hosted auth API the service needs.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*authprovider.Session, error)
	RefreshToken(ctx context.Context, refreshToken string) (*authprovider.Session, error)
	GetUser(ctx context.Context, accessToken string) (*authprovider.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Options tunes session handling.
type Options struct {
	// AdminEmails limits which provider accounts are admins. Empty means all.
	AdminEmails   []string
	SessionSecret []byte
	SessionTTL    time.Duration
	// CacheTTL bounds how long a provider validation result is reused.
	CacheTTL     time.Duration
	CookieSecure bool
}

// Result is the outcome of a successful login.
type Result struct {
	Principal  Principal
	SetCookies []*http.Cookie
}

// Resolution is the outcome of checking a request's cookies.
type Resolution struct {
	Principal *Principal
	// SetCookies carries rotated provider tokens after a refresh.
	SetCookies []*http.Cookie
	// ClearCookies asks the caller to drop stale session cookies.
	ClearCookies bool
}

// Service implements login, logout and session resolution.
type Service struct {
	provider Provider
	users    account.Store
	cache    cache.Store
	opts     Options
	admins   map[string]struct{}
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds the auth service. provider may be nil when only
// directory accounts are in use.
func NewService(provider Provider, users account.Store, store cache.Store, opts Options, logger zerolog.Logger) (*Service, error) {
	if len(opts.SessionSecret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if store == nil {
		store = cache.NewMemory()
	}

	admins := make(map[string]struct{}, len(opts.AdminEmails))
	for _, email := range opts.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	return &Service{
		provider: provider,
		users:    users,
		cache:    store,
		opts:     opts,
		admins:   admins,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Login authenticates login/password against the directory first, then the provider.
func (s *Service) Login(ctx context.Context, login, password string) (*Result, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if s.users != nil {
		if user, ok := s.users.FindByLogin(login); ok {
			return s.loginLocal(user, password)
		}
	}

	if s.provider == nil {
		metrics.RecordLogin(string(KindLocal), "unknown_user")
		return nil, ErrInvalidCredentials
	}

	session, err := s.provider.SignInWithPassword(ctx, login, password)
	if err != nil {
		if authprovider.IsUnauthorized(err) {
			metrics.RecordLogin(string(KindProvider), "rejected")
			return nil, ErrInvalidCredentials
		}
		metrics.RecordLogin(string(KindProvider), "error")
		return nil, fmt.Errorf("provider sign-in: %w", err)
	}

	principal := s.providerPrincipal(session.User, session.Expiry(s.now()))
	s.rememberPrincipal(ctx, session.AccessToken, principal)
	metrics.RecordLogin(string(KindProvider), "ok")

	s.logger.Info().Str("user_id", principal.UserID).Str("role", principal.Role).Msg("provider login")

	cookies := append(s.providerCookies(session), s.clearCookie(SessionCookie))
	return &Result{Principal: principal, SetCookies: cookies}, nil
}

func (s *Service) loginLocal(user account.User, password string) (*Result, error) {
	if user.Disabled || !account.VerifyPassword(user, password) {
		metrics.RecordLogin(string(KindLocal), "rejected")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.issueLocalToken(user)
	if err != nil {
		metrics.RecordLogin(string(KindLocal), "error")
		return nil, err
	}
	metrics.RecordLogin(string(KindLocal), "ok")

	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("local login")

	return &Result{
		Principal: localPrincipal(user, expiresAt),
		SetCookies: []*http.Cookie{
			s.newCookie(SessionCookie, token, expiresAt),
			s.clearCookie(AccessCookie),
			s.clearCookie(RefreshCookie),
		},
	}, nil
}

// Resolve checks the session cookies of a request. The returned Resolution is
// non-nil even when err is ErrNoSession so callers can clear stale cookies.
func (s *Service) Resolve(ctx context.Context, c Cookies) (*Resolution, error) {
	if s.provider != nil && (c.Access != "" || c.Refresh != "") {
		res, err := s.resolveProvider(ctx, c)
		switch {
		case err == nil:
			return res, nil
		case !errors.Is(err, ErrNoSession):
			return nil, err
		}
	}

	if c.Local != "" {
		if principal, err := s.resolveLocal(c.Local); err == nil {
			return &Resolution{Principal: principal}, nil
		} else {
			s.logger.Debug().Err(err).Msg("rejected local session")
		}
	}

	return &Resolution{ClearCookies: !c.Empty()}, ErrNoSession
}

func (s *Service) resolveProvider(ctx context.Context, c Cookies) (*Resolution, error) {
	if c.Access != "" {
		if principal, ok := s.cachedPrincipal(ctx, c.Access); ok {
			return &Resolution{Principal: &principal}, nil
		}

		user, err := s.provider.GetUser(ctx, c.Access)
		if err == nil {
			principal := s.providerPrincipal(*user, accessTokenExpiry(c.Access))
			s.rememberPrincipal(ctx, c.Access, principal)
			return &Resolution{Principal: &principal}, nil
		}
		if !authprovider.IsUnauthorized(err) {
			return nil, fmt.Errorf("validate provider session: %w", err)
		}
	}

	if c.Refresh == "" {
		return nil, ErrNoSession
	}

	session, err := s.provider.RefreshToken(ctx, c.Refresh)
	if err != nil {
		if authprovider.IsUnauthorized(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("refresh provider session: %w", err)
	}

	principal := s.providerPrincipal(session.User, session.Expiry(s.now()))
	s.rememberPrincipal(ctx, session.AccessToken, principal)
	s.logger.Debug().Str("user_id", principal.UserID).Msg("refreshed provider session")

	return &Resolution{Principal: &principal, SetCookies: s.providerCookies(session)}, nil
}

func (s *Service) resolveLocal(raw string) (*Principal, error) {
	claims, err := s.parseLocalToken(raw)
	if err != nil {
		return nil, err
	}
	if s.users == nil {
		return nil, errors.New("no account directory configured")
	}

	user, ok := s.users.FindByID(claims.Subject)
	if !ok || user.Disabled {
		return nil, fmt.Errorf("account %s no longer active", claims.Subject)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	principal := localPrincipal(user, expiresAt)
	return &principal, nil
}

// Logout ends the session and returns cookies that clear it in the browser.
func (s *Service) Logout(ctx context.Context, c Cookies) []*http.Cookie {
	if c.Access != "" {
		if err := s.cache.Delete(ctx, cacheKey(c.Access)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drop cached session")
		}
		if s.provider != nil {
			if err := s.provider.SignOut(ctx, c.Access); err != nil {
				s.logger.Warn().Err(err).Msg("provider sign-out failed")
			}
		}
	}
	return s.ClearCookies()
}

// ClearCookies returns expired versions of every session cookie.
func (s *Service) ClearCookies() []*http.Cookie {
	return []*http.Cookie{
		s.clearCookie(AccessCookie),
		s.clearCookie(RefreshCookie),
		s.clearCookie(SessionCookie),
	}
}

func (s *Service) providerPrincipal(user authprovider.User, expiresAt time.Time) Principal {
	role := account.RoleStaff
	if len(s.admins) == 0 {
		role = account.RoleAdmin
	} else if _, ok := s.admins[strings.ToLower(user.Email)]; ok {
		role = account.RoleAdmin
	}

	return Principal{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.DisplayName(),
		Role:      role,
		Kind:      KindProvider,
		ExpiresAt: expiresAt,
	}
}

func localPrincipal(user account.User, expiresAt time.Time) Principal {
	name := user.Name
	if name == "" {
		name = user.Username
	}
	return Principal{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      name,
		Role:      user.Role,
		Kind:      KindLocal,
		ExpiresAt: expiresAt,
	}
}

func (s *Service) providerCookies(session *authprovider.Session) []*http.Cookie {
	cookies := []*http.Cookie{s.newCookie(AccessCookie, session.AccessToken, session.Expiry(s.now()))}
	if session.RefreshToken != "" {
		cookies = append(cookies, s.newCookie(RefreshCookie, session.RefreshToken, s.now().Add(s.opts.SessionTTL)))
	}
	return cookies
}

func (s *Service) newCookie(name, value string, expiresAt time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expiresAt.IsZero() {
		maxAge := int(expiresAt.Sub(s.now()).Seconds())
		if maxAge < 1 {
			maxAge = 1
		}
		ck.Expires = expiresAt.UTC()
		ck.MaxAge = maxAge
	}
	return ck
}

func (s *Service) clearCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	}
}

func cacheKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return "session:" + hex.EncodeToString(sum[:])
}

func (s *Service) cachedPrincipal(ctx context.Context, accessToken string) (Principal, bool) {
	raw, ok, err := s.cache.Get(ctx, cacheKey(accessToken))
	if err != nil {
		s.logger.Warn().Err(err).Msg("session cache read failed")
		return Principal{}, false
	}
	if !ok {
		return Principal{}, false
	}

	var principal Principal
	if err := json.Unmarshal(raw, &principal); err != nil {
		return Principal{}, false
	}
	return principal, true
}

func (s *Service) rememberPrincipal(ctx context.Context, accessToken string, principal Principal) {
	ttl := s.opts.CacheTTL
	if !principal.ExpiresAt.IsZero() {
		if remaining := principal.ExpiresAt.Sub(s.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(principal)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(accessToken), raw, ttl); err != nil {
		s.logger.Warn().Err(err).Msg("session cache write failed")
	}
}

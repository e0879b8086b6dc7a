// Package middleware holds the portal's HTTP middleware: the session gate,
// admin gate, CORS, login rate limiting and access logging.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/service/auth"
	"github.com/phucdat/portal/backend/pkg/utils"
)

// LoginPath is the page unauthenticated visitors are sent to.
const LoginPath = "/login"

// SessionResolver resolves request cookies into a principal.
type SessionResolver interface {
	Resolve(ctx context.Context, cookies auth.Cookies) (*auth.Resolution, error)
	ClearCookies() []*http.Cookie
}

var publicPaths = map[string]bool{
	"/healthz":         true,
	"/metrics":         true,
	"/favicon.ico":     true,
	"/api/auth/login":  true,
	"/api/auth/logout": true,
}

var publicPrefixes = []string{"/assets/"}

func isPublic(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// Session gates every non-public route behind a valid session. API calls
// without one get 401; page requests are redirected to the login page. A
// visitor who already has a session is sent away from the login page.
func Session(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if isPublic(path) {
				next.ServeHTTP(w, r)
				return
			}

			onLogin := path == LoginPath
			cookies := auth.CookiesFromRequest(r)
			if cookies.Empty() {
				if onLogin {
					next.ServeHTTP(w, r)
					return
				}
				denySession(w, r)
				return
			}

			res, err := resolver.Resolve(r.Context(), cookies)
			if err != nil && !errors.Is(err, auth.ErrNoSession) {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("session check failed")
				if onLogin {
					next.ServeHTTP(w, r)
					return
				}
				utils.RespondError(w, http.StatusServiceUnavailable, "session check unavailable")
				return
			}

			if res != nil {
				for _, ck := range res.SetCookies {
					http.SetCookie(w, ck)
				}
				if res.ClearCookies {
					for _, ck := range resolver.ClearCookies() {
						http.SetCookie(w, ck)
					}
				}
			}

			if err != nil || res == nil || res.Principal == nil {
				if onLogin {
					next.ServeHTTP(w, r)
					return
				}
				denySession(w, r)
				return
			}

			if onLogin {
				http.Redirect(w, r, SafeRedirect(r.URL.Query().Get("redirect")), http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), *res.Principal)))
		})
	}
}

// RequireAdmin lets only admin principals through. Non-admin page requests
// are sent back to the home page.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			denySession(w, r)
			return
		}
		if principal.IsAdmin() {
			next.ServeHTTP(w, r)
			return
		}

		if isAPI(r.URL.Path) {
			utils.RespondError(w, http.StatusForbidden, auth.ErrForbidden.Error())
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

func denySession(w http.ResponseWriter, r *http.Request) {
	if isAPI(r.URL.Path) {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	RedirectToLogin(w, r)
}

// RedirectToLogin sends the browser to the login page, remembering where it
// wanted to go in the redirect query parameter.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	q := url.Values{}
	if target != "/" {
		q.Set("redirect", target)
	}
	u := &url.URL{Path: LoginPath, RawQuery: q.Encode()}

	// See Other forces the follow-up request to be a GET.
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// SafeRedirect returns target when it is a same-site absolute path, "/" otherwise.
func SafeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	if u.Path == LoginPath {
		return "/"
	}
	return target
}

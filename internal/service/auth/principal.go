package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/phucdat/portal/backend/internal/model/account"
)

// Kind tells where a session came from.
type Kind string

const (
	// KindProvider sessions were issued by the hosted auth provider.
	KindProvider Kind = "provider"
	// KindLocal sessions were issued by this server for directory accounts.
	KindLocal Kind = "local"
)

// Session cookie names.
const (
	AccessCookie  = "pd_access_token"
	RefreshCookie = "pd_refresh_token"
	SessionCookie = "pd_session"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Kind      Kind      `json:"kind"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// IsAdmin reports whether the principal may use the accounting area.
func (p Principal) IsAdmin() bool {
	return p.Role == account.RoleAdmin
}

// Cookies carries the raw session cookie values of a request.
type Cookies struct {
	Access  string
	Refresh string
	Local   string
}

// Empty reports whether no session cookie was sent at all.
func (c Cookies) Empty() bool {
	return c.Access == "" && c.Refresh == "" && c.Local == ""
}

// CookiesFromRequest extracts the session cookies from r.
func CookiesFromRequest(r *http.Request) Cookies {
	value := func(name string) string {
		if ck, err := r.Cookie(name); err == nil {
			return ck.Value
		}
		return ""
	}
	return Cookies{
		Access:  value(AccessCookie),
		Refresh: value(RefreshCookie),
		Local:   value(SessionCookie),
	}
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by the session middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

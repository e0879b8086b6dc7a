package authprovider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Session is the token pair returned by a successful sign-in or refresh.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expiry returns when the access token stops being valid.
func (s *Session) Expiry(now time.Time) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	if s.ExpiresIn > 0 {
		return now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// User is the provider's view of an account.
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Phone        string                 `json:"phone,omitempty"`
	Role         string                 `json:"role,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	LastSignInAt *time.Time             `json:"last_sign_in_at,omitempty"`
}

// DisplayName picks the nicest name available in the user metadata.
func (u User) DisplayName() string {
	for _, key := range []string{"full_name", "name", "display_name"} {
		if v, ok := u.UserMetadata[key].(string); ok && v != "" {
			return v
		}
	}
	return u.Email
}

// Error is a non-2xx answer from the provider.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth provider: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth provider: %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a provider rejection of the credentials or token.
func IsUnauthorized(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

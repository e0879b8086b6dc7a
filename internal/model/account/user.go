package account

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Roles a principal can hold.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// User is a locally managed portal account (non-admin staff, mostly).
type User struct {
	ID           string `json:"id" yaml:"id"`
	Username     string `json:"username" yaml:"username"`
	Name         string `json:"name" yaml:"name"`
	Email        string `json:"email,omitempty" yaml:"email"`
	PasswordHash string `json:"-" yaml:"password_hash"`
	Role         string `json:"role" yaml:"role"`
	Disabled     bool   `json:"disabled,omitempty" yaml:"disabled"`
}

// MatchesLogin reports whether login names this user by username or email.
func (u User) MatchesLogin(login string) bool {
	login = strings.TrimSpace(login)
	if login == "" {
		return false
	}
	return strings.EqualFold(u.Username, login) || (u.Email != "" && strings.EqualFold(u.Email, login))
}

// VerifyPassword checks password against the stored bcrypt hash.
func VerifyPassword(u User, password string) bool {
	if u.PasswordHash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

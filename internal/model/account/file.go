package account

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type usersFile struct {
	Users []User `yaml:"users"`
}

// LoadFile reads the YAML account directory at path.
//
//	users:
//	  - id: nv-001
//	    username: lan.nguyen
//	    name: Nguyễn Thị Lan
//	    password_hash: $2a$10$...
//	    role: staff
func LoadFile(path string) ([]User, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a users document.
func Parse(raw []byte) ([]User, error) {
	var doc usersFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode users file: %w", err)
	}

	ids := make(map[string]struct{}, len(doc.Users))
	logins := make(map[string]struct{}, len(doc.Users)*2)
	users := make([]User, 0, len(doc.Users))

	for i, u := range doc.Users {
		u.ID = strings.TrimSpace(u.ID)
		u.Username = strings.TrimSpace(u.Username)
		u.Email = strings.TrimSpace(u.Email)
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("users[%d]: id and username are required", i)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("users[%d] %s: password_hash is not a bcrypt hash", i, u.Username)
		}

		switch u.Role {
		case "":
			u.Role = RoleStaff
		case RoleStaff, RoleAdmin:
		default:
			return nil, fmt.Errorf("users[%d] %s: unknown role %q", i, u.Username, u.Role)
		}

		if _, dup := ids[u.ID]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate id %q", i, u.ID)
		}
		ids[u.ID] = struct{}{}

		for _, login := range []string{u.Username, u.Email} {
			if login == "" {
				continue
			}
			key := strings.ToLower(login)
			if _, dup := logins[key]; dup {
				return nil, fmt.Errorf("users[%d]: duplicate login %q", i, login)
			}
			logins[key] = struct{}{}
		}

		users = append(users, u)
	}

	if len(users) == 0 {
		return nil, errors.New("users file defines no users")
	}
	return users, nil
}

package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestParseUsers(t *testing.T) {
	hash := mustHash(t, "matkhau")
	doc := []byte(`
users:
  - id: nv-001
    username: lan.nguyen
    name: Nguyễn Thị Lan
    email: lan@phucdat.vn
    password_hash: "` + hash + `"
  - id: nv-002
    username: hung.tran
    name: Trần Văn Hùng
    password_hash: "` + hash + `"
    role: admin
    disabled: true
`)

	users, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, RoleStaff, users[0].Role)
	assert.Equal(t, RoleAdmin, users[1].Role)
	assert.True(t, users[1].Disabled)

	store := NewMemoryStore(users)
	got, ok := store.FindByLogin("LAN@phucdat.vn")
	require.True(t, ok)
	assert.Equal(t, "nv-001", got.ID)

	got, ok = store.FindByLogin("Hung.Tran")
	require.True(t, ok)
	assert.Equal(t, "nv-002", got.ID)

	_, ok = store.FindByLogin("")
	assert.False(t, ok)

	_, ok = store.FindByID("nv-404")
	assert.False(t, ok)

	assert.True(t, VerifyPassword(got, "matkhau"))
	assert.False(t, VerifyPassword(got, "sai"))
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	hash := mustHash(t, "x")
	cases := map[string]string{
		"empty":           `users: []`,
		"missing id":      "users:\n  - username: a\n    password_hash: \"" + hash + "\"\n",
		"plain password":  "users:\n  - id: a\n    username: a\n    password_hash: hunter2\n",
		"bad role":        "users:\n  - id: a\n    username: a\n    role: root\n    password_hash: \"" + hash + "\"\n",
		"duplicate id":    "users:\n  - id: a\n    username: a\n    password_hash: \"" + hash + "\"\n  - id: a\n    username: b\n    password_hash: \"" + hash + "\"\n",
		"duplicate login": "users:\n  - id: a\n    username: a\n    password_hash: \"" + hash + "\"\n  - id: b\n    username: A\n    password_hash: \"" + hash + "\"\n",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMemoryStoreListIsACopy(t *testing.T) {
	store := NewMemoryStore([]User{{ID: "a", Username: "a"}})
	list := store.List()
	list[0].Username = "changed"

	got, ok := store.FindByID("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Username)
}

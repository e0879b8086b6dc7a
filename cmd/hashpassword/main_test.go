package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phucdat/portal/backend/internal/model/account"
)

func TestRunPrintsUsableHash(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(strings.NewReader("matkhau-kho\n"), &out))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "password_hash: "))
	hash, err := strconv.Unquote(strings.TrimPrefix(line, "password_hash: "))
	require.NoError(t, err)

	user := account.User{Username: "kho", PasswordHash: hash}
	assert.True(t, account.VerifyPassword(user, "matkhau-kho"))
	assert.False(t, account.VerifyPassword(user, "matkhau-kho\n"))
}

func TestRunRejectsEmptyInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(strings.NewReader("\n"), &out))
	assert.Error(t, run(strings.NewReader(""), &out))
	assert.Empty(t, out.String())
}

package authprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL + "/auth/v1/", AnonKey: "anon-key"})
	require.NoError(t, err)
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{AnonKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ke.toan@phucdat.vn", body["email"])
		assert.Equal(t, "s3cret", body["password"])

		fmt.Fprint(w, `{"access_token":"at","refresh_token":"rt","token_type":"bearer","expires_in":3600,
			"user":{"id":"u-1","email":"ke.toan@phucdat.vn","user_metadata":{"full_name":"Nguyễn Thị Lan"}}}`)
	})

	session, err := client.SignInWithPassword(context.Background(), "ke.toan@phucdat.vn", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "at", session.AccessToken)
	assert.Equal(t, "rt", session.RefreshToken)
	assert.Equal(t, "u-1", session.User.ID)
	assert.Equal(t, "Nguyễn Thị Lan", session.User.DisplayName())

	now := time.Unix(1000, 0)
	assert.Equal(t, time.Unix(4600, 0), session.Expiry(now))
}

func TestSignInRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
	})

	_, err := client.SignInWithPassword(context.Background(), "a@b.c", "bad")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "invalid_grant", pe.Code)
	assert.Equal(t, "Invalid login credentials", pe.Message)
}

func TestGetUserSendsBearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":401,"error_code":"bad_jwt","msg":"invalid JWT"}`)
			return
		}
		fmt.Fprint(w, `{"id":"u-1","email":"giamdoc@phucdat.vn"}`)
	})

	user, err := client.GetUser(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "giamdoc@phucdat.vn", user.Email)
	assert.Equal(t, "giamdoc@phucdat.vn", user.DisplayName())

	_, err = client.GetUser(context.Background(), "expired")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad_jwt", pe.Code)
	assert.Equal(t, "invalid JWT", pe.Message)
}

func TestServerErrorIsNotUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	})

	err := client.SignOut(context.Background(), "tok")
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestRefreshToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"at2","refresh_token":"rt2","expires_at":1700000000,"user":{"id":"u-1"}}`)
	})

	session, err := client.RefreshToken(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "at2", session.AccessToken)
	assert.Equal(t, time.Unix(1700000000, 0), session.Expiry(time.Now()))
}

package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/phucdat/portal/backend/internal/middleware"
	"github.com/phucdat/portal/backend/internal/model/account"
	authService "github.com/phucdat/portal/backend/internal/service/auth"
	"github.com/phucdat/portal/backend/internal/storage/cache"
)

func setupRouter(t *testing.T, limiter func(http.Handler) http.Handler) *chi.Mux {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("matkhau123"), bcrypt.MinCost)
	require.NoError(t, err)

	users := account.NewMemoryStore([]account.User{
		{ID: "nv-007", Username: "thu.tran", Name: "Trần Thu", PasswordHash: string(hash), Role: account.RoleStaff},
	})
	svc, err := authService.NewService(nil, users, cache.NewMemory(), authService.Options{
		SessionSecret: []byte("0123456789abcdef0123456789abcdef"),
		SessionTTL:    time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.Session(svc))
	r.Route("/api", func(api chi.Router) {
		New(svc, limiter).RegisterRoutes(api)
	})
	return r
}

func postJSON(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func findCookie(resp *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginJSON(t *testing.T) {
	r := setupRouter(t, nil)

	resp := postJSON(r, "/api/auth/login", map[string]string{"login": "thu.tran", "password": "matkhau123"})
	require.Equal(t, http.StatusOK, resp.Code)

	var principal authService.Principal
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &principal))
	assert.Equal(t, "nv-007", principal.UserID)
	assert.Equal(t, authService.KindLocal, principal.Kind)

	session := findCookie(resp, authService.SessionCookie)
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.NotEmpty(t, session.Value)
}

func TestLoginJSONRejected(t *testing.T) {
	r := setupRouter(t, nil)

	resp := postJSON(r, "/api/auth/login", map[string]string{"login": "thu.tran", "password": "sai"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = postJSON(r, "/api/auth/login", map[string]string{"login": "thu.tran"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), `"password":"required"`)
}

func TestLoginForm(t *testing.T) {
	r := setupRouter(t, nil)

	resp := postForm(r, "/api/auth/login", url.Values{
		"login": {"thu.tran"}, "password": {"matkhau123"}, "redirect": {"/chat/cf-1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/chat/cf-1", resp.Header().Get("Location"))
	assert.NotNil(t, findCookie(resp, authService.SessionCookie))

	resp = postForm(r, "/api/auth/login", url.Values{
		"login": {"thu.tran"}, "password": {"matkhau123"}, "redirect": {"https://evil.example/"},
	})
	require.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))
}

func TestLoginFormRejected(t *testing.T) {
	r := setupRouter(t, nil)

	resp := postForm(r, "/api/auth/login", url.Values{
		"login": {"thu.tran"}, "password": {"sai"}, "redirect": {"/chat/cf-1"},
	})
	require.Equal(t, http.StatusSeeOther, resp.Code)

	loc, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "invalid_credentials", loc.Query().Get("error"))
	assert.Equal(t, "/chat/cf-1", loc.Query().Get("redirect"))
	assert.Nil(t, findCookie(resp, authService.SessionCookie))
}

func TestMe(t *testing.T) {
	r := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	login := postJSON(r, "/api/auth/login", map[string]string{"login": "thu.tran", "password": "matkhau123"})
	require.Equal(t, http.StatusOK, login.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(findCookie(login, authService.SessionCookie))
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"name":"Trần Thu"`)
}

func TestLogout(t *testing.T) {
	r := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: authService.SessionCookie, Value: "anything"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)

	cleared := findCookie(resp, authService.SessionCookie)
	require.NotNil(t, cleared)
	assert.True(t, cleared.MaxAge < 0)

	resp = postForm(r, "/api/auth/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/login", resp.Header().Get("Location"))
}

func TestLoginIsRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, 1)
	r := setupRouter(t, limiter.Handler)

	body := map[string]string{"login": "thu.tran", "password": "sai"}
	assert.Equal(t, http.StatusUnauthorized, postJSON(r, "/api/auth/login", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, postJSON(r, "/api/auth/login", body).Code)
}

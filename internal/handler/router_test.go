package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/phucdat/portal/backend/internal/model/account"
	"github.com/phucdat/portal/backend/internal/model/chat"
	"github.com/phucdat/portal/backend/internal/model/invoice"
	accountingService "github.com/phucdat/portal/backend/internal/service/accounting"
	authService "github.com/phucdat/portal/backend/internal/service/auth"
	chatService "github.com/phucdat/portal/backend/internal/service/chat"
	"github.com/phucdat/portal/backend/internal/storage/cache"
)

type emptyUpstream struct{}

func (emptyUpstream) ListChatflows(context.Context) ([]chat.Chatflow, error) {
	return []chat.Chatflow{{ID: "cf-1", Name: "Tư vấn"}}, nil
}

func (emptyUpstream) ListMessages(context.Context, string, time.Time, time.Time) ([]chat.Message, error) {
	return nil, nil
}

func setupRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("matkhau"), bcrypt.MinCost)
	require.NoError(t, err)

	users := account.NewMemoryStore([]account.User{
		{ID: "nv-1", Username: "nhanvien", Name: "Nhân Viên", PasswordHash: string(hash), Role: account.RoleStaff},
		{ID: "kt-1", Username: "ketoan", Name: "Kế Toán", PasswordHash: string(hash), Role: account.RoleAdmin},
	})
	store := cache.NewMemory()
	authSvc, err := authService.NewService(nil, users, store, authService.Options{
		SessionSecret: []byte("0123456789abcdef0123456789abcdef"),
		SessionTTL:    time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)

	loc := time.FixedZone("ICT", 7*3600)
	return NewRouter(Deps{
		Logger:     zerolog.Nop(),
		Auth:       authSvc,
		Chat:       chatService.NewService(emptyUpstream{}, store, chatService.Options{}, zerolog.Nop()),
		Accounting: accountingService.NewService(invoice.NewMemoryStore(), loc, zerolog.Nop()),
		Static:     fstest.MapFS{"index.html": {Data: []byte("<!doctype html>")}},
		Checks:     checks,
	})
}

func login(t *testing.T, r http.Handler, username string) []*http.Cookie {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"login": username, "password": "matkhau"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return resp.Result().Cookies()
}

func get(r http.Handler, target string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHealthz(t *testing.T) {
	r := setupRouter(t, map[string]HealthCheck{
		"cache": func(context.Context) error { return nil },
	})

	resp := get(r, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"cache":"ok"}}`, resp.Body.String())
}

func TestHealthzDegraded(t *testing.T) {
	r := setupRouter(t, map[string]HealthCheck{
		"cache":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return errors.New("connection refused") },
	})

	resp := get(r, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"cache":"ok","database":"unavailable"}}`, resp.Body.String())
}

func TestMetricsIsPublic(t *testing.T) {
	r := setupRouter(t, nil)
	get(r, "/healthz", nil)

	resp := get(r, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "portal_http_requests_total")
}

func TestAnonymousVisitors(t *testing.T) {
	r := setupRouter(t, nil)

	resp := get(r, "/api/chatflows", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = get(r, "/chat/cf-1", nil)
	assert.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/login?redirect=%2Fchat%2Fcf-1", resp.Header().Get("Location"))

	resp = get(r, "/login", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestStaffSession(t *testing.T) {
	r := setupRouter(t, nil)
	cookies := login(t, r, "nhanvien")

	resp := get(r, "/api/chatflows", cookies)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Tư vấn")

	resp = get(r, "/api/accounting/invoices", cookies)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = get(r, "/accounting", cookies)
	assert.Equal(t, http.StatusSeeOther, resp.Code)

	resp = get(r, "/login", cookies)
	assert.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))
}

func TestAdminSession(t *testing.T) {
	r := setupRouter(t, nil)
	cookies := login(t, r, "ketoan")

	resp := get(r, "/api/accounting/dashboard", cookies)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "byMonth")

	resp = get(r, "/accounting/invoices", cookies)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "<!doctype html>")
}

func TestUnknownAPIRouteIsJSON(t *testing.T) {
	r := setupRouter(t, nil)
	cookies := login(t, r, "nhanvien")

	resp := get(r, "/api/does-not-exist", cookies)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.JSONEq(t, `{"error":"not found"}`, resp.Body.String())
}

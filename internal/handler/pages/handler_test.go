package pages

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/phucdat/portal/backend/internal/model/account"
	"github.com/phucdat/portal/backend/internal/service/auth"
)

func setupRouter(role string) *chi.Mux {
	files := fstest.MapFS{
		"index.html":        {Data: []byte("<!doctype html><title>Phúc Đạt</title>")},
		"assets/app.js":     {Data: []byte("console.log('portal')")},
		"assets/app.css":    {Data: []byte("body{}")},
		"robots.txt":        {Data: []byte("User-agent: *")},
		"assets/img/.keep":  {Data: nil},
		"login/index.extra": {Data: []byte("unused")},
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u-1", Role: role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(files).RegisterRoutes(r)
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	return resp
}

func TestServesIndexAtRoot(t *testing.T) {
	resp := get(setupRouter(account.RoleStaff), "/")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Phúc Đạt")
	assert.Equal(t, "no-cache", resp.Header().Get("Cache-Control"))
}

func TestServesExistingFiles(t *testing.T) {
	r := setupRouter(account.RoleStaff)

	resp := get(r, "/assets/app.js")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "portal")

	resp = get(r, "/robots.txt")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "User-agent: *", resp.Body.String())
}

func TestUnknownPagesFallBackToIndex(t *testing.T) {
	r := setupRouter(account.RoleStaff)

	for _, target := range []string{"/login", "/chat/cf-1", "/chat/cf-1/conv-2"} {
		resp := get(r, target)
		assert.Equal(t, http.StatusOK, resp.Code, target)
		assert.Contains(t, resp.Body.String(), "<!doctype html>", target)
	}
}

func TestMissingAssetIs404(t *testing.T) {
	r := setupRouter(account.RoleStaff)

	assert.Equal(t, http.StatusNotFound, get(r, "/assets/missing.js").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/assets/img").Code)
}

func TestAccountingPagesRequireAdmin(t *testing.T) {
	staff := setupRouter(account.RoleStaff)
	resp := get(staff, "/accounting/invoices")
	assert.Equal(t, http.StatusSeeOther, resp.Code)
	assert.Equal(t, "/", resp.Header().Get("Location"))

	resp = get(staff, "/accounting")
	assert.Equal(t, http.StatusSeeOther, resp.Code)

	admin := setupRouter(account.RoleAdmin)
	resp = get(admin, "/accounting/invoices")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Phúc Đạt")
}

func TestMissingIndexIs404(t *testing.T) {
	r := chi.NewRouter()
	New(fstest.MapFS{}).RegisterRoutes(r)

	assert.Equal(t, http.StatusNotFound, get(r, "/chat").Code)
}

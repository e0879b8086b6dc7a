// Package auth serves the login, logout and current-user endpoints.
package auth

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/middleware"
	authService "github.com/phucdat/portal/backend/internal/service/auth"
	"github.com/phucdat/portal/backend/pkg/utils"
)

const maxFormBytes = 64 << 10

// Authenticator is the part of the auth service the handler uses.
type Authenticator interface {
	Login(ctx context.Context, login, password string) (*authService.Result, error)
	Logout(ctx context.Context, cookies authService.Cookies) []*http.Cookie
}

// Handler serves /auth routes.
type Handler struct {
	auth    Authenticator
	limiter func(http.Handler) http.Handler
}

// New builds the handler. limiter wraps the login route; nil disables it.
func New(auth Authenticator, limiter func(http.Handler) http.Handler) *Handler {
	return &Handler{auth: auth, limiter: limiter}
}

// RegisterRoutes mounts the auth routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		login := r
		if h.limiter != nil {
			login = r.With(h.limiter)
		}
		login.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func isJSON(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if isJSON(r) {
		h.loginJSON(w, r)
		return
	}
	h.loginForm(w, r)
}

func (h *Handler) loginJSON(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), payload.Login, payload.Password)
	switch {
	case errors.Is(err, authService.ErrInvalidCredentials):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("login failed")
		utils.RespondError(w, http.StatusServiceUnavailable, "login temporarily unavailable")
		return
	}

	setCookies(w, res.SetCookies)
	utils.RespondJSON(w, http.StatusOK, res.Principal)
}

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, utils.ErrInvalidBody.Error())
		return
	}

	redirect := middleware.SafeRedirect(r.PostForm.Get("redirect"))
	res, err := h.auth.Login(r.Context(), r.PostForm.Get("login"), r.PostForm.Get("password"))
	if err != nil {
		code := "invalid_credentials"
		if !errors.Is(err, authService.ErrInvalidCredentials) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("login failed")
			code = "unavailable"
		}
		http.Redirect(w, r, loginURL(code, redirect), http.StatusSeeOther)
		return
	}

	setCookies(w, res.SetCookies)
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

func loginURL(code, redirect string) string {
	q := url.Values{}
	q.Set("error", code)
	if redirect != "/" {
		q.Set("redirect", redirect)
	}
	return (&url.URL{Path: middleware.LoginPath, RawQuery: q.Encode()}).String()
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	setCookies(w, h.auth.Logout(r.Context(), authService.CookiesFromRequest(r)))

	if isJSON(r) || r.Header.Get("Content-Type") == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := authService.PrincipalFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	utils.RespondJSON(w, http.StatusOK, principal)
}

func setCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}

// Package authprovider talks to the hosted GoTrue-compatible auth service
// that issues admin sessions.
package authprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Config holds the provider endpoint and project key.
type Config struct {
	// BaseURL points at the auth API root, e.g. https://xyz.supabase.co/auth/v1.
	BaseURL    string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a minimal auth provider REST client.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("auth provider URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("auth provider anon key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		anonKey: cfg.AnonKey,
		http:    httpClient,
	}, nil
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	payload := map[string]string{"email": email, "password": password}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefreshToken trades a refresh token for a new session.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	payload := map[string]string{"refresh_token": refreshToken}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetUser returns the user owning accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut revokes the refresh tokens of the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseError(respBody, resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             interface{} `json:"code"`
		ErrorCode        string      `json:"error_code"`
		Msg              string      `json:"msg"`
		Message          string      `json:"message"`
		Error            string      `json:"error"`
		ErrorDescription string      `json:"error_description"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return &Error{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
	}

	msg := errResp.Msg
	for _, candidate := range []string{errResp.Message, errResp.ErrorDescription, errResp.Error} {
		if msg != "" {
			break
		}
		msg = candidate
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	code := errResp.ErrorCode
	if code == "" {
		if s, ok := errResp.Code.(string); ok {
			code = s
		}
	}
	if code == "" && errResp.Error != "" && errResp.Error != msg {
		code = errResp.Error
	}

	return &Error{StatusCode: statusCode, Code: code, Message: msg}
}

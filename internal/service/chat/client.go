package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/metrics"
	"github.com/phucdat/portal/backend/internal/model/chat"
)

const (
	maxResponseBytes   = 32 << 20
	defaultMaxAttempts = 3
	upstreamTarget     = "chat"
)

// UpstreamError is a non-2xx answer from the chat backend.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("chat backend returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying may succeed.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// ClientConfig configures the chat backend client.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	HTTPClient    *http.Client
	MaxAttempts   int
	RetryInterval time.Duration
}

// Client reads chatflows and chat messages from a Flowise-compatible backend.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	maxAttempts   int
	retryInterval time.Duration
	logger        zerolog.Logger
}

// NewClient builds a Client for cfg.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("chat backend URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		http:          httpClient,
		maxAttempts:   attempts,
		retryInterval: interval,
		logger:        logger,
	}, nil
}

// ListChatflows returns every chatflow configured upstream.
func (c *Client) ListChatflows(ctx context.Context) ([]chat.Chatflow, error) {
	body, err := c.get(ctx, "/api/v1/chatflows", nil)
	if err != nil {
		return nil, err
	}
	return parseChatflows(body)
}

// ListMessages returns the messages of one chatflow in ascending order.
// Zero from/to leave the range open.
func (c *Client) ListMessages(ctx context.Context, chatflowID string, from, to time.Time) ([]chat.Message, error) {
	query := url.Values{}
	query.Set("order", "ASC")
	if !from.IsZero() {
		query.Set("startDate", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		query.Set("endDate", to.UTC().Format(time.RFC3339))
	}

	body, err := c.get(ctx, "/api/v1/chatmessage/"+url.PathEscape(chatflowID), query)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrChatflowNotFound, chatflowID)
		}
		return nil, err
	}
	return parseMessages(chatflowID, body)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)

	var body []byte
	op := func() error {
		b, err := c.fetch(ctx, endpoint)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("path", path).Dur("retry_in", wait).Msg("chat backend request failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstream(upstreamTarget, "network_error")
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.RecordUpstream(upstreamTarget, "network_error")
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), 200)}
		if upstream.Temporary() {
			metrics.RecordUpstream(upstreamTarget, "status_retryable")
			return nil, upstream
		}
		metrics.RecordUpstream(upstreamTarget, "status_rejected")
		return nil, backoff.Permanent(upstream)
	}

	metrics.RecordUpstream(upstreamTarget, "ok")
	return body, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

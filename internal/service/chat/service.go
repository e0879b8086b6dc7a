// Package chat serves the chat history held by the upstream chat backend,
// grouped into conversations.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/phucdat/portal/backend/internal/model/chat"
	"github.com/phucdat/portal/backend/internal/storage/cache"
)

var (
	ErrChatflowNotFound     = errors.New("chatflow not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSummaryUnavailable   = errors.New("conversation summaries are not configured")
)

const (
	chatflowsCacheKey = "chatflows"
	fanOutLimit       = 4
)

// Upstream is the chat backend.
type Upstream interface {
	ListChatflows(ctx context.Context) ([]chat.Chatflow, error)
	ListMessages(ctx context.Context, chatflowID string, from, to time.Time) ([]chat.Message, error)
}

// Summarizer writes a short summary of a conversation.
type Summarizer interface {
	Summarize(ctx context.Context, conv chat.Conversation) (string, error)
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	CacheTTL     time.Duration
	PollInterval time.Duration
	Summarizer   Summarizer
}

// Service exposes the chat history grouped into conversations.
type Service struct {
	upstream     Upstream
	cache        cache.Store
	cacheTTL     time.Duration
	pollInterval time.Duration
	summarizer   Summarizer
	logger       zerolog.Logger
}

// NewService wires the upstream client and the chatflow cache. store may be nil.
func NewService(upstream Upstream, store cache.Store, opts Options, logger zerolog.Logger) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Service{
		upstream:     upstream,
		cache:        store,
		cacheTTL:     opts.CacheTTL,
		pollInterval: opts.PollInterval,
		summarizer:   opts.Summarizer,
		logger:       logger,
	}
}

// SummariesEnabled reports whether Summarize can work.
func (s *Service) SummariesEnabled() bool {
	return s.summarizer != nil
}

// ListChatflows returns the chatflows, served from cache when possible.
func (s *Service) ListChatflows(ctx context.Context) ([]chat.Chatflow, error) {
	flows, _, err := s.chatflows(ctx, false)
	return flows, err
}

func (s *Service) chatflows(ctx context.Context, bypassCache bool) ([]chat.Chatflow, bool, error) {
	if s.cache != nil && !bypassCache {
		raw, ok, err := s.cache.Get(ctx, chatflowsCacheKey)
		if err != nil {
			s.logger.Warn().Err(err).Msg("chatflow cache read failed")
		}
		if ok {
			var flows []chat.Chatflow
			if err := json.Unmarshal(raw, &flows); err == nil {
				return flows, true, nil
			}
			s.logger.Warn().Msg("discarding undecodable chatflow cache entry")
		}
	}

	flows, err := s.upstream.ListChatflows(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list chatflows: %w", err)
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].Name < flows[j].Name })

	if s.cache != nil {
		if raw, err := json.Marshal(flows); err == nil {
			if err := s.cache.Set(ctx, chatflowsCacheKey, raw, s.cacheTTL); err != nil {
				s.logger.Warn().Err(err).Msg("chatflow cache write failed")
			}
		}
	}
	return flows, false, nil
}

// chatflow finds one chatflow. A miss on a cached list refetches once so
// newly created chatflows show up before the cache expires.
func (s *Service) chatflow(ctx context.Context, id string) (chat.Chatflow, error) {
	flows, cached, err := s.chatflows(ctx, false)
	if err != nil {
		return chat.Chatflow{}, err
	}
	if flow, ok := findChatflow(flows, id); ok {
		return flow, nil
	}
	if cached {
		if flows, _, err = s.chatflows(ctx, true); err != nil {
			return chat.Chatflow{}, err
		}
		if flow, ok := findChatflow(flows, id); ok {
			return flow, nil
		}
	}
	return chat.Chatflow{}, fmt.Errorf("%w: %s", ErrChatflowNotFound, id)
}

func findChatflow(flows []chat.Chatflow, id string) (chat.Chatflow, bool) {
	for _, f := range flows {
		if f.ID == id {
			return f, true
		}
	}
	return chat.Chatflow{}, false
}

func (s *Service) conversations(ctx context.Context, flow chat.Chatflow, q Query) ([]chat.Conversation, error) {
	messages, err := s.upstream.ListMessages(ctx, flow.ID, q.From, q.To)
	if err != nil {
		return nil, err
	}
	return GroupConversations(flow, q.inRange(messages)), nil
}

// ListConversations lists the conversations of one chatflow.
func (s *Service) ListConversations(ctx context.Context, chatflowID string, q Query) (chat.Page, error) {
	q = q.normalized()

	flow, err := s.chatflow(ctx, chatflowID)
	if err != nil {
		return chat.Page{}, err
	}
	conversations, err := s.conversations(ctx, flow, q)
	if err != nil {
		return chat.Page{}, err
	}
	return paginate(conversations, q), nil
}

// ListAllConversations lists conversations across every chatflow.
func (s *Service) ListAllConversations(ctx context.Context, q Query) (chat.Page, error) {
	q = q.normalized()

	flows, err := s.ListChatflows(ctx)
	if err != nil {
		return chat.Page{}, err
	}

	results := make([][]chat.Conversation, len(flows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, flow := range flows {
		i, flow := i, flow
		g.Go(func() error {
			convs, err := s.conversations(gctx, flow, q)
			if errors.Is(err, ErrChatflowNotFound) {
				// deleted since the list was cached
				return nil
			}
			if err != nil {
				return fmt.Errorf("chatflow %s: %w", flow.ID, err)
			}
			results[i] = convs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chat.Page{}, err
	}

	var merged []chat.Conversation
	for _, convs := range results {
		merged = append(merged, convs...)
	}
	sortConversations(merged)
	return paginate(merged, q), nil
}

// GetConversation returns one conversation with all of its messages.
func (s *Service) GetConversation(ctx context.Context, chatflowID, conversationID string) (chat.Conversation, error) {
	flow, err := s.chatflow(ctx, chatflowID)
	if err != nil {
		return chat.Conversation{}, err
	}
	conversations, err := s.conversations(ctx, flow, Query{})
	if err != nil {
		return chat.Conversation{}, err
	}
	for _, conv := range conversations {
		if conv.ID == conversationID {
			return conv, nil
		}
	}
	return chat.Conversation{}, ErrConversationNotFound
}

// Summarize asks the configured model for a summary of one conversation.
func (s *Service) Summarize(ctx context.Context, chatflowID, conversationID string) (string, error) {
	if s.summarizer == nil {
		return "", ErrSummaryUnavailable
	}
	conv, err := s.GetConversation(ctx, chatflowID, conversationID)
	if err != nil {
		return "", err
	}
	summary, err := s.summarizer.Summarize(ctx, conv)
	if err != nil {
		return "", fmt.Errorf("summarize conversation %s: %w", conversationID, err)
	}
	return summary, nil
}

// Watch polls the chatflow every interval and emits the messages newer than
// since. The channel is closed when ctx is done.
func (s *Service) Watch(ctx context.Context, chatflowID string, since time.Time, interval time.Duration) <-chan []chat.Message {
	if interval <= 0 {
		interval = s.pollInterval
	}
	out := make(chan []chat.Message)

	go func() {
		defer close(out)

		mark := newHighWater(since)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			messages, err := s.upstream.ListMessages(ctx, chatflowID, mark.at, time.Time{})
			switch {
			case err != nil && ctx.Err() == nil:
				s.logger.Warn().Err(err).Str("chatflow", chatflowID).Msg("live poll failed")
			case err == nil:
				if fresh := mark.advance(messages); len(fresh) > 0 {
					select {
					case out <- fresh:
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// highWater remembers the newest timestamp seen and the ids delivered at it,
// since the backend filters by time with inclusive bounds.
type highWater struct {
	at  time.Time
	ids map[string]struct{}
}

func newHighWater(since time.Time) *highWater {
	return &highWater{at: since, ids: make(map[string]struct{})}
}

func (h *highWater) advance(messages []chat.Message) []chat.Message {
	var fresh []chat.Message
	for _, m := range messages {
		if m.CreatedAt.Before(h.at) {
			continue
		}
		if m.CreatedAt.Equal(h.at) {
			if _, seen := h.ids[m.ID]; seen {
				continue
			}
		}
		fresh = append(fresh, m)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreatedAt.Before(fresh[j].CreatedAt) })

	for _, m := range fresh {
		if m.CreatedAt.After(h.at) {
			h.at = m.CreatedAt
			h.ids = make(map[string]struct{})
		}
		h.ids[m.ID] = struct{}{}
	}
	return fresh
}

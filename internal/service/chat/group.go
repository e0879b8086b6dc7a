package chat

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/phucdat/portal/backend/internal/model/chat"
)

const previewRunes = 120

// GroupConversations groups messages by conversation id. Messages inside a
// conversation are ordered by time with upstream order kept for ties;
// conversations are ordered by most recent activity.
func GroupConversations(flow chat.Chatflow, messages []chat.Message) []chat.Conversation {
	order := make([]string, 0)
	byID := make(map[string][]chat.Message)
	for _, msg := range messages {
		id := msg.ConversationID
		if id == "" {
			id = firstNonEmpty(msg.SessionID, msg.ID)
			msg.ConversationID = id
		}
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = append(byID[id], msg)
	}

	conversations := make([]chat.Conversation, 0, len(order))
	for _, id := range order {
		msgs := byID[id]
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
		conversations = append(conversations, newConversation(flow, id, msgs))
	}

	sortConversations(conversations)
	return conversations
}

func newConversation(flow chat.Chatflow, id string, msgs []chat.Message) chat.Conversation {
	conv := chat.Conversation{
		ID:            id,
		ChatflowID:    flow.ID,
		ChatflowName:  flow.Name,
		Messages:      msgs,
		MessageCount:  len(msgs),
		StartedAt:     msgs[0].CreatedAt,
		LastMessageAt: msgs[len(msgs)-1].CreatedAt,
	}
	if conv.ChatflowID == "" {
		conv.ChatflowID = msgs[0].ChatflowID
	}
	for _, m := range msgs {
		if conv.ChatType == "" && m.ChatType != "" {
			conv.ChatType = m.ChatType
		}
		if conv.Preview == "" && m.Role == chat.RoleUser {
			conv.Preview = preview(m.Content)
		}
	}
	return conv
}

func sortConversations(conversations []chat.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	return string([]rune(content)[:previewRunes]) + "…"
}

// Query narrows a conversation listing.
type Query struct {
	Search   string
	From     time.Time
	To       time.Time
	ChatType string
	Limit    int
	Offset   int
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

func (q Query) normalized() Query {
	q.Search = strings.ToLower(strings.TrimSpace(q.Search))
	q.ChatType = strings.ToUpper(strings.TrimSpace(q.ChatType))
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// inRange drops messages outside [From, To] in case the backend ignored
// the date parameters.
func (q Query) inRange(messages []chat.Message) []chat.Message {
	if q.From.IsZero() && q.To.IsZero() {
		return messages
	}
	kept := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if !q.From.IsZero() && m.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && m.CreatedAt.After(q.To) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func (q Query) matches(conv chat.Conversation) bool {
	if q.ChatType != "" && conv.ChatType != q.ChatType {
		return false
	}
	if q.Search == "" {
		return true
	}
	for _, m := range conv.Messages {
		if strings.Contains(strings.ToLower(m.Content), q.Search) {
			return true
		}
	}
	return false
}

// paginate filters conversations and returns the requested window as summaries.
func paginate(conversations []chat.Conversation, q Query) chat.Page {
	matched := make([]chat.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if q.matches(conv) {
			matched = append(matched, conv)
		}
	}

	page := chat.Page{Items: []chat.Conversation{}, Total: len(matched)}
	if q.Offset >= len(matched) {
		return page
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	for _, conv := range matched[q.Offset:end] {
		page.Items = append(page.Items, conv.Summary())
	}
	return page
}

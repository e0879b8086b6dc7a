package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phucdat/portal/backend/internal/model/chat"
)

var base = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func msg(id, conv string, role chat.Role, minute int, content string) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: conv,
		Role:           role,
		Content:        content,
		CreatedAt:      base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestGroupConversationsEmpty(t *testing.T) {
	got := GroupConversations(chat.Chatflow{ID: "cf"}, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGroupConversationsOrdering(t *testing.T) {
	flow := chat.Chatflow{ID: "cf-1", Name: "CSKH"}
	messages := []chat.Message{
		msg("a2", "A", chat.RoleAssistant, 2, "answer"),
		msg("b1", "B", chat.RoleUser, 5, "hỏi giá"),
		msg("a1", "A", chat.RoleUser, 1, "first question"),
		msg("a3", "A", chat.RoleAssistant, 2, "same time, later upstream"),
		msg("c1", "C", chat.RoleUser, 5, "tie with B"),
	}

	got := GroupConversations(flow, messages)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"B", "C", "A"}, []string{got[0].ID, got[1].ID, got[2].ID})

	a := got[2]
	assert.Equal(t, "CSKH", a.ChatflowName)
	assert.Equal(t, 3, a.MessageCount)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{a.Messages[0].ID, a.Messages[1].ID, a.Messages[2].ID})
	assert.Equal(t, base.Add(time.Minute), a.StartedAt)
	assert.Equal(t, base.Add(2*time.Minute), a.LastMessageAt)
	assert.Equal(t, "first question", a.Preview)
}

func TestPreviewIsTrimmed(t *testing.T) {
	long := strings.Repeat("ă", 130)
	conv := GroupConversations(chat.Chatflow{}, []chat.Message{msg("1", "x", chat.RoleUser, 0, long)})[0]
	assert.Equal(t, strings.Repeat("ă", 120)+"…", conv.Preview)

	conv = GroupConversations(chat.Chatflow{}, []chat.Message{msg("1", "x", chat.RoleAssistant, 0, "bot only")})[0]
	assert.Empty(t, conv.Preview)
}

func TestPaginate(t *testing.T) {
	var convs []chat.Conversation
	for i := 0; i < 5; i++ {
		convs = append(convs, chat.Conversation{
			ID:       string(rune('a' + i)),
			ChatType: chat.ChatTypeInternal,
			Messages: []chat.Message{{Content: "Đơn hàng số " + string(rune('0'+i))}},
		})
	}
	convs[4].ChatType = chat.ChatTypeExternal

	page := paginate(convs, Query{Limit: 2, Offset: 1}.normalized())
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[0].ID)
	assert.Nil(t, page.Items[0].Messages)

	page = paginate(convs, Query{Search: "ĐƠN HÀNG SỐ 3"}.normalized())
	assert.Equal(t, 1, page.Total)

	page = paginate(convs, Query{ChatType: "external"}.normalized())
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "e", page.Items[0].ID)

	page = paginate(convs, Query{Offset: 10}.normalized())
	assert.Equal(t, 5, page.Total)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestQueryNormalized(t *testing.T) {
	q := Query{Limit: 1000, Offset: -3}.normalized()
	assert.Equal(t, MaxLimit, q.Limit)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, DefaultLimit, Query{}.normalized().Limit)
}

package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/phucdat/portal/backend/internal/model/chat"
)

// ErrMalformedResponse marks an upstream body that is not a JSON array.
var ErrMalformedResponse = errors.New("malformed chat backend response")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

func parseArray(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrMalformedResponse
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return gjson.Result{}, ErrMalformedResponse
	}
	return res, nil
}

func parseChatflows(body []byte) ([]chat.Chatflow, error) {
	res, err := parseArray(body)
	if err != nil {
		return nil, err
	}

	flows := make([]chat.Chatflow, 0, len(res.Array()))
	res.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").String()
		if id == "" {
			return true
		}
		flows = append(flows, chat.Chatflow{
			ID:        id,
			Name:      v.Get("name").String(),
			Deployed:  v.Get("deployed").Bool(),
			Category:  v.Get("category").String(),
			CreatedAt: parseTime(v.Get("createdDate")),
			UpdatedAt: parseTime(v.Get("updatedDate")),
		})
		return true
	})
	return flows, nil
}

func parseMessages(chatflowID string, body []byte) ([]chat.Message, error) {
	res, err := parseArray(body)
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(res.Array()))
	res.ForEach(func(_, v gjson.Result) bool {
		msg := chat.Message{
			ID:              v.Get("id").String(),
			ChatflowID:      v.Get("chatflowid").String(),
			SessionID:       v.Get("sessionId").String(),
			Role:            parseRole(v.Get("role").String()),
			Content:         v.Get("content").String(),
			ChatType:        strings.ToUpper(v.Get("chatType").String()),
			CreatedAt:       parseTime(v.Get("createdDate")),
			SourceDocuments: parseSourceDocuments(v.Get("sourceDocuments")),
		}
		if msg.ChatflowID == "" {
			msg.ChatflowID = chatflowID
		}
		msg.ConversationID = firstNonEmpty(v.Get("chatId").String(), msg.SessionID, msg.ID)
		messages = append(messages, msg)
		return true
	})
	return messages, nil
}

func parseRole(raw string) chat.Role {
	switch strings.ToLower(raw) {
	case "usermessage", "user":
		return chat.RoleUser
	default:
		return chat.RoleAssistant
	}
}

// parseSourceDocuments accepts an array or a JSON string holding one.
func parseSourceDocuments(v gjson.Result) []chat.SourceDocument {
	if v.Type == gjson.String {
		if !gjson.Valid(v.Str) {
			return nil
		}
		v = gjson.Parse(v.Str)
	}
	if !v.IsArray() {
		return nil
	}

	var docs []chat.SourceDocument
	v.ForEach(func(_, d gjson.Result) bool {
		doc := chat.SourceDocument{PageContent: d.Get("pageContent").String()}
		if meta, ok := d.Get("metadata").Value().(map[string]interface{}); ok && len(meta) > 0 {
			doc.Metadata = meta
		}
		docs = append(docs, doc)
		return true
	})
	return docs
}

func parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		// epoch milliseconds
		return time.UnixMilli(v.Int()).UTC()
	case gjson.String:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

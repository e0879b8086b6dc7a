package chat

import "time"

// Chatflow is a chatbot configured on the backend.
type Chatflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Deployed  bool      `json:"deployed"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation groups the messages sharing one conversation id.
type Conversation struct {
	ID            string    `json:"id"`
	ChatflowID    string    `json:"chatflowId"`
	ChatflowName  string    `json:"chatflowName"`
	ChatType      string    `json:"chatType,omitempty"`
	Messages      []Message `json:"messages,omitempty"`
	MessageCount  int       `json:"messageCount"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Preview       string    `json:"preview"`
}

// Summary returns the conversation without its messages.
func (c Conversation) Summary() Conversation {
	c.Messages = nil
	return c
}

// Page is one window of a conversation listing.
type Page struct {
	Items []Conversation `json:"items"`
	Total int            `json:"total"`
}

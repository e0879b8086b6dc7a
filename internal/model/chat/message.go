package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat types reported by the upstream backend.
const (
	ChatTypeInternal = "INTERNAL"
	ChatTypeExternal = "EXTERNAL"
)

// Message is a single turn recorded by the chat backend.
type Message struct {
	ID              string           `json:"id"`
	ChatflowID      string           `json:"chatflowId"`
	ConversationID  string           `json:"conversationId"`
	SessionID       string           `json:"sessionId,omitempty"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	ChatType        string           `json:"chatType,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	SourceDocuments []SourceDocument `json:"sourceDocuments,omitempty"`
}

// SourceDocument is a retrieval citation attached to an assistant answer.
type SourceDocument struct {
	PageContent string                 `json:"pageContent"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

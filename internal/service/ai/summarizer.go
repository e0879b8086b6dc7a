// Package ai produces conversation summaries with an eino chat chain.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/config"
	"github.com/phucdat/portal/backend/internal/model/chat"
)

// transcriptLimit caps how many trailing messages are sent to the model.
const transcriptLimit = 40

const systemPrompt = `Bạn là trợ lý nội bộ của công ty Phúc Đạt.
Tóm tắt cuộc hội thoại giữa khách hàng và chatbot "{chatflow}" bằng tiếng Việt, tối đa 5 gạch đầu dòng.
Nêu rõ nhu cầu của khách, thông tin đã cung cấp và việc cần nhân viên theo dõi tiếp.`

const instruction = "Hãy tóm tắt cuộc hội thoại trên."

// Summarizer runs conversations through a prompt + chat model chain.
type Summarizer struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger zerolog.Logger
}

// NewSummarizer builds the Ark chat model from cfg and compiles the chain.
func NewSummarizer(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*Summarizer, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewSummarizerWithModel(ctx, chatModel, logger)
}

// NewSummarizerWithModel compiles the chain around an existing model.
func NewSummarizerWithModel(ctx context.Context, chatModel model.BaseChatModel, logger zerolog.Logger) (*Summarizer, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder("transcript", false),
		schema.UserMessage("{instruction}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}
	return &Summarizer{chain: runnable, logger: logger}, nil
}

// Summarize returns a short summary of conv.
func (s *Summarizer) Summarize(ctx context.Context, conv chat.Conversation) (string, error) {
	transcript := buildTranscript(conv.Messages)
	if len(transcript) == 0 {
		return "", errors.New("conversation has no messages")
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"chatflow":    conv.ChatflowName,
		"transcript":  transcript,
		"instruction": instruction,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run summary chain: %w", err)
	}

	summary := strings.TrimSpace(response.Content)
	s.logger.Debug().
		Str("conversation", conv.ID).
		Int("messages", len(transcript)).
		Int("length", len(summary)).
		Msg("generated conversation summary")
	return summary, nil
}

func buildTranscript(messages []chat.Message) []*schema.Message {
	start := 0
	if len(messages) > transcriptLimit {
		start = len(messages) - transcriptLimit
	}

	transcript := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			transcript = append(transcript, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			transcript = append(transcript, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return transcript
}

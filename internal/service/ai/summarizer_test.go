package ai

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phucdat/portal/backend/internal/model/chat"
)

type fakeModel struct {
	input []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage("  - Khách hỏi giá thép.  ", nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestSummarize(t *testing.T) {
	fake := &fakeModel{}
	summarizer, err := NewSummarizerWithModel(context.Background(), fake, zerolog.Nop())
	require.NoError(t, err)

	conv := chat.Conversation{
		ID:           "conv-1",
		ChatflowName: "Bán hàng",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Giá thép hộp?"},
			{Role: chat.RoleAssistant, Content: ""},
			{Role: chat.RoleAssistant, Content: "12.000đ/kg"},
		},
	}

	summary, err := summarizer.Summarize(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "- Khách hỏi giá thép.", summary)

	require.Len(t, fake.input, 4)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Contains(t, fake.input[0].Content, `"Bán hàng"`)
	assert.Equal(t, schema.User, fake.input[1].Role)
	assert.Equal(t, schema.Assistant, fake.input[2].Role)
	assert.Equal(t, instruction, fake.input[3].Content)
}

func TestSummarizeEmptyConversation(t *testing.T) {
	summarizer, err := NewSummarizerWithModel(context.Background(), &fakeModel{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = summarizer.Summarize(context.Background(), chat.Conversation{})
	assert.Error(t, err)
}

func TestBuildTranscriptKeepsTail(t *testing.T) {
	var messages []chat.Message
	for i := 0; i < transcriptLimit+5; i++ {
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	transcript := buildTranscript(messages)
	require.Len(t, transcript, transcriptLimit)
	assert.Equal(t, "m5", transcript[0].Content)
}

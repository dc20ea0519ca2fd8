package assemble

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoverquill/server/internal/copilot/model"
)

type fakeHistory struct {
	messages []*schema.Message
}

func (f *fakeHistory) AddMessage(ctx context.Context, sessionID string, m *schema.Message) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeHistory) LoadHistory(ctx context.Context, sessionID string, limit int) (*model.SessionHistory, error) {
	msgs := f.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return &model.SessionHistory{SessionID: sessionID, Messages: msgs}, nil
}

func (f *fakeHistory) ClearHistory(ctx context.Context, sessionID string) error {
	f.messages = nil
	return nil
}

func (f *fakeHistory) GetMessageCount(ctx context.Context, sessionID string) (int, error) {
	return len(f.messages), nil
}

func newAssembler(hist *fakeHistory) *Assembler {
	return New(hist, 20, "base system prompt")
}

func TestAssembleTurnOrdering(t *testing.T) {
	hist := &fakeHistory{messages: []*schema.Message{
		schema.UserMessage("earlier question"),
		schema.AssistantMessage("earlier answer", nil),
	}}
	a := newAssembler(hist)
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "What's 2+2?",
		Mode:      model.ModeChat,
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, msgs, 5)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "base system prompt", msgs[0].Content)
	assert.Equal(t, schema.System, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "CHAT_MODE")
	assert.Equal(t, schema.User, msgs[2].Role)
	assert.Equal(t, schema.Assistant, msgs[3].Role)
	assert.Equal(t, schema.User, msgs[4].Role)
	assert.Equal(t, "What's 2+2?", msgs[4].Content)
}

func TestAssemblePlainQueryScenario(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{SessionID: "s1", Query: "What's 2+2?", Mode: model.ModeChat}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, msgs, 3)
	final := msgs[len(msgs)-1]
	assert.Equal(t, schema.User, final.Role)
	assert.Equal(t, "What's 2+2?", final.Content)
	assert.Empty(t, final.MultiContent)
}

func TestAssembleComposeMode(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{SessionID: "s1", Query: "write a haiku", Mode: model.ModeCompose}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, msgs[1].Content, "COMPOSE MODE")
}

func TestAssembleToolResultFolding(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "search something",
		Mode:      model.ModeChat,
		ToolCallResult: &model.ToolCallOutcome{
			Tool:   "web_search",
			ID:     "call_abc123",
			Result: model.ToolResult{Status: model.ToolStatusSuccess, Data: "formatted results"},
		},
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	// system, mode, tool turn, steering system, user
	require.Len(t, msgs, 5)
	assert.Equal(t, schema.Tool, msgs[2].Role)
	assert.Equal(t, "formatted results", msgs[2].Content)
	assert.Equal(t, "call_abc123", msgs[2].ToolCallID)
	assert.Equal(t, schema.System, msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "web_search tool call you requested")
	assert.Nil(t, state.ToolCallResult, "tool result must be consumed")
}

func TestAssembleToolRejection(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "do it",
		Mode:      model.ModeChat,
		ToolCallResult: &model.ToolCallOutcome{
			Tool:   "web_search",
			ID:     "call_xyz",
			Result: model.ToolResult{Status: model.ToolStatusRejected},
		},
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	// system, mode, rejection tool turn, user (no steering turn)
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.Tool, msgs[2].Role)
	assert.Equal(t, rejectionNotice, msgs[2].Content)
	assert.Equal(t, "call_xyz", msgs[2].ToolCallID)
	assert.Equal(t, schema.User, msgs[3].Role)
}

func TestAssembleGenericToolHeader(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "q",
		Mode:      model.ModeChat,
		ToolCallResult: &model.ToolCallOutcome{
			Tool:   "custom_tool",
			ID:     "call_1",
			Result: model.ToolResult{Status: model.ToolStatusSuccess, Data: "payload"},
		},
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, msgs[2].Content, "Result from custom_tool tool:")
	assert.Contains(t, msgs[2].Content, "payload")
}

func TestAssembleToolErrorSerialized(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "q",
		Mode:      model.ModeChat,
		ToolCallResult: &model.ToolCallOutcome{
			Tool:   "web_search",
			ID:     "call_1",
			Result: model.ToolResult{Status: model.ToolStatusError, Message: "Timeout waiting for user confirmation"},
		},
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, msgs[2].Content, "Result from web_search tool:")
	assert.Contains(t, msgs[2].Content, "Timeout waiting for user confirmation")
}

func TestAssembleWebResultsSuccess(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "latest Rust release",
		Mode:      model.ModeChat,
		WebSearchResults: &model.SearchOutcome{
			Status:            "success",
			Mode:              model.SearchModeWebSearch,
			Query:             "=====WEB_SEARCH_RESULTS=====\n...\nBased on the web search results above, please answer: latest Rust release",
			SystemInstruction: "handle the results carefully",
		},
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	// system, mode, search instruction, user
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[2].Role)
	assert.Equal(t, "handle the results carefully", msgs[2].Content)
	final := msgs[3]
	assert.Contains(t, final.Content, "=====WEB_SEARCH_RESULTS=====")
	assert.Nil(t, state.WebSearchResults, "web results must be consumed")
}

func TestAssembleWebResultsError(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "latest Rust release",
		Mode:      model.ModeChat,
		WebSearchResults: &model.SearchOutcome{
			Status: "error",
			Mode:   model.SearchModeWebSearch,
			Err:    "provider unavailable",
		},
	}

	msgs, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	final := msgs[len(msgs)-1]
	assert.Contains(t, final.Content, "I tried to perform a web search")
	assert.Contains(t, final.Content, "provider unavailable")
	assert.Contains(t, final.Content, "latest Rust release")
	assert.Nil(t, state.WebSearchResults)
}

func TestAssembleConsumptionIsAtMostOnce(t *testing.T) {
	a := newAssembler(&fakeHistory{})
	state := &model.ConversationState{
		SessionID: "s1",
		Query:     "q",
		Mode:      model.ModeChat,
		ToolCallResult: &model.ToolCallOutcome{
			Tool:   "web_search",
			ID:     "call_1",
			Result: model.ToolResult{Status: model.ToolStatusSuccess, Data: "data"},
		},
		WebSearchResults: &model.SearchOutcome{Status: "success", Query: "rewritten"},
	}

	first, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), state)
	require.NoError(t, err)

	assert.Greater(t, len(first), len(second))
	for _, m := range second {
		assert.NotEqual(t, schema.Tool, m.Role)
		assert.NotEqual(t, "rewritten", m.Content)
	}
}

func TestAssembleSelectedTextGuard(t *testing.T) {
	t.Run("appended when absent", func(t *testing.T) {
		a := newAssembler(&fakeHistory{})
		state := &model.ConversationState{
			SessionID:    "s1",
			Query:        "explain this",
			Mode:         model.ModeChat,
			SelectedText: "func main() {}",
		}
		msgs, err := a.Assemble(context.Background(), state)
		require.NoError(t, err)
		final := msgs[len(msgs)-1]
		assert.Contains(t, final.Content, selectedTextSentinel)
		assert.Contains(t, final.Content, "func main() {}")
	})

	t.Run("not duplicated when embedded", func(t *testing.T) {
		a := newAssembler(&fakeHistory{})
		state := &model.ConversationState{
			SessionID:    "s1",
			Query:        "q",
			Mode:         model.ModeChat,
			SelectedText: "snippet",
			WebSearchResults: &model.SearchOutcome{
				Status: "success",
				Query:  "=====SELECTED_TEXT=====\nsnippet\n=======================\nanswer please",
			},
		}
		msgs, err := a.Assemble(context.Background(), state)
		require.NoError(t, err)
		final := msgs[len(msgs)-1]
		assert.Equal(t, 1, strings.Count(final.Content, selectedTextSentinel))
	})
}

func TestAssembleVisionShapes(t *testing.T) {
	t.Run("description appended", func(t *testing.T) {
		a := newAssembler(&fakeHistory{})
		state := &model.ConversationState{
			SessionID:         "s1",
			Query:             "what is this?",
			Mode:              model.ModeChat,
			ImageData:         "aGVsbG8=",
			VisionDescription: "a red square",
			VisionConfigured:  true,
		}
		msgs, err := a.Assemble(context.Background(), state)
		require.NoError(t, err)
		final := msgs[len(msgs)-1]
		assert.Contains(t, final.Content, "=====VISUAL_DESCRIPTION=====")
		assert.Contains(t, final.Content, "a red square")
		assert.Empty(t, final.MultiContent, "image must not be forwarded when described")
	})

	t.Run("configured but failed adds note", func(t *testing.T) {
		a := newAssembler(&fakeHistory{})
		state := &model.ConversationState{
			SessionID:        "s1",
			Query:            "what is this?",
			Mode:             model.ModeChat,
			ImageData:        "aGVsbG8=",
			VisionConfigured: true,
		}
		msgs, err := a.Assemble(context.Background(), state)
		require.NoError(t, err)
		final := msgs[len(msgs)-1]
		assert.Contains(t, final.Content, "=====SYSTEM_NOTE=====")
		assert.Empty(t, final.MultiContent)
	})

	t.Run("unconfigured forwards multimodal", func(t *testing.T) {
		a := newAssembler(&fakeHistory{})
		state := &model.ConversationState{
			SessionID: "s1",
			Query:     "what is this?",
			Mode:      model.ModeChat,
			ImageData: "data:image/png;base64,aGVsbG8=",
		}
		msgs, err := a.Assemble(context.Background(), state)
		require.NoError(t, err)
		final := msgs[len(msgs)-1]
		require.Len(t, final.MultiContent, 2)
		assert.Equal(t, schema.ChatMessagePartTypeText, final.MultiContent[0].Type)
		assert.Equal(t, "what is this?", final.MultiContent[0].Text)
		require.Equal(t, schema.ChatMessagePartTypeImageURL, final.MultiContent[1].Type)
		assert.Equal(t, "data:image/png;base64,aGVsbG8=", final.MultiContent[1].ImageURL.URL)
	})
}

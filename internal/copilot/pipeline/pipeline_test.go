package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoverquill/server/internal/copilot/assemble"
	"github.com/hoverquill/server/internal/copilot/invoke"
	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/search"
)

type fakeHistory struct {
	mu       sync.Mutex
	appended []*schema.Message
}

func (f *fakeHistory) AddMessage(ctx context.Context, sessionID string, m *schema.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, m)
	return nil
}

func (f *fakeHistory) LoadHistory(ctx context.Context, sessionID string, limit int) (*model.SessionHistory, error) {
	return &model.SessionHistory{SessionID: sessionID}, nil
}

func (f *fakeHistory) ClearHistory(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = nil
	return nil
}

func (f *fakeHistory) GetMessageCount(ctx context.Context, sessionID string) (int, error) {
	return len(f.appended), nil
}

// scriptedModel replays canned responses and records every input it saw.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	calls     [][]*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, input)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	out := m.responses[0]
	m.responses = m.responses[1:]
	return out, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	sr, sw := schema.Pipe[*schema.Message](2)
	go func() {
		defer sw.Close()
		// Split into two chunks to exercise concatenation.
		half := len(out.Content) / 2
		sw.Send(schema.AssistantMessage(out.Content[:half], nil), nil)
		sw.Send(schema.AssistantMessage(out.Content[half:], nil), nil)
	}()
	return sr, nil
}

type fakeModels struct {
	chatModel einomodel.BaseChatModel
	protocol  invoke.ToolProtocol
	err       error
}

func (f *fakeModels) Invoker(ctx context.Context, modelName string) (*invoke.Invoker, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &invoke.Invoker{ChatModel: f.chatModel, Name: "scripted", Protocol: f.protocol}, nil
}

type fakeSearch struct {
	outcome *model.SearchOutcome
}

func (f *fakeSearch) Classify(query string, qctx search.QueryContext) search.Plan {
	return search.Classify(query, qctx)
}

func (f *fakeSearch) Execute(ctx context.Context, plan search.Plan, selectedText string) *model.SearchOutcome {
	if f.outcome != nil {
		return f.outcome
	}
	return &model.SearchOutcome{Status: "error", Mode: plan.Mode, Err: "no provider"}
}

type fakeVision struct {
	configured  bool
	description string
}

func (f *fakeVision) Describe(ctx context.Context, imageBase64, promptHint string) (string, error) {
	return f.description, nil
}

func (f *fakeVision) Configured() bool { return f.configured }

type fakeConfirmer struct {
	mu       sync.Mutex
	requests []*model.ToolCallRequest
	outcome  func(req *model.ToolCallRequest) *model.ToolCallOutcome
}

func (f *fakeConfirmer) Await(ctx context.Context, req *model.ToolCallRequest, progress func(string)) *model.ToolCallOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.outcome != nil {
		return f.outcome(req)
	}
	return &model.ToolCallOutcome{Tool: req.Tool, ID: req.ID, Result: model.ToolResult{Status: model.ToolStatusRejected}}
}

type testHarness struct {
	orch      *Orchestrator
	history   *fakeHistory
	chatModel *scriptedModel
	confirmer *fakeConfirmer
}

func newHarness(t *testing.T, opts func(*Deps, *testHarness)) *testHarness {
	t.Helper()
	h := &testHarness{
		history:   &fakeHistory{},
		chatModel: &scriptedModel{},
		confirmer: &fakeConfirmer{},
	}
	conv := model.ConversationConfig{HistoryLimit: 20}
	conv.Tools.MaxCalls = 10

	deps := Deps{
		Conversation: conv,
		History:      h.history,
		Search:       &fakeSearch{},
		Vision:       &fakeVision{},
		Assembler:    assemble.New(h.history, conv.HistoryLimit, "system prompt"),
		Models:       &fakeModels{chatModel: h.chatModel, protocol: invoke.ToolProtocolNative},
		Confirmer:    h.confirmer,
	}
	if opts != nil {
		opts(&deps, h)
	}
	h.orch = NewOrchestrator(deps)
	return h
}

func TestProcessQueryPlainChat(t *testing.T) {
	h := newHarness(t, nil)
	h.chatModel.responses = []*schema.Message{schema.AssistantMessage("The answer is 4.", nil)}

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{
		SessionID: "s1",
		Query:     "What's 2+2?",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", result.Response)
	assert.Empty(t, result.DetectedLanguage)

	require.Len(t, h.history.appended, 2, "exactly one user and one assistant turn persisted")
	assert.Equal(t, schema.User, h.history.appended[0].Role)
	assert.Equal(t, "What's 2+2?", h.history.appended[0].Content)
	assert.Equal(t, schema.Assistant, h.history.appended[1].Role)
	assert.Equal(t, "The answer is 4.", h.history.appended[1].Content)
}

func TestProcessQueryComposeUnwrapsFence(t *testing.T) {
	h := newHarness(t, nil)
	h.chatModel.responses = []*schema.Message{
		schema.AssistantMessage("```python\nprint('hi')\n```", nil),
	}

	raw := "Context:\n=====MODE=====\ncompose\n=======================\n\nQuery:\nwrite hello world"
	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: raw}, nil)

	require.NoError(t, err)
	assert.Equal(t, "print('hi')", result.Response)
	assert.Equal(t, "python", result.DetectedLanguage)
}

func TestProcessQueryToolLoop(t *testing.T) {
	h := newHarness(t, nil)
	h.chatModel.responses = []*schema.Message{
		schema.AssistantMessage(`<<TOOL: web_search {"query": "rust release"}>>`, nil),
		schema.AssistantMessage("Rust 1.80 was released in July.", nil),
	}
	h.confirmer.outcome = func(req *model.ToolCallRequest) *model.ToolCallOutcome {
		return &model.ToolCallOutcome{
			Tool:   req.Tool,
			ID:     req.ID,
			Result: model.ToolResult{Status: model.ToolStatusSuccess, Data: "search results block"},
		}
	}

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{
		SessionID: "s1",
		Query:     "what's the latest rust release?",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Rust 1.80 was released in July.", result.Response)

	require.Len(t, h.confirmer.requests, 1)
	assert.Equal(t, "web_search", h.confirmer.requests[0].Tool)
	assert.Equal(t, "rust release", h.confirmer.requests[0].Args["query"])

	require.Len(t, h.chatModel.calls, 2)
	second := h.chatModel.calls[1]
	var sawToolTurn, sawSteering bool
	for _, m := range second {
		if m.Role == schema.Tool && m.Content == "search results block" {
			sawToolTurn = true
		}
		if m.Role == schema.System && strings.Contains(m.Content, "web_search tool call you requested") {
			sawSteering = true
		}
	}
	assert.True(t, sawToolTurn, "second invocation must carry the tool result turn")
	assert.True(t, sawSteering, "second invocation must carry the steering turn")

	require.Len(t, h.history.appended, 2, "tool loop iterations do not write history")
}

func TestProcessQueryToolRejection(t *testing.T) {
	h := newHarness(t, nil)
	h.chatModel.responses = []*schema.Message{
		schema.AssistantMessage(`<<TOOL: web_search {"query": "q"}>>`, nil),
		schema.AssistantMessage("Answering without the web.", nil),
	}

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "q"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Answering without the web.", result.Response)

	second := h.chatModel.calls[1]
	var sawRejection bool
	for _, m := range second {
		if m.Role == schema.Tool && strings.Contains(m.Content, "The user rejected this tool call request") {
			sawRejection = true
		}
	}
	assert.True(t, sawRejection)
}

func TestProcessQueryToolLimit(t *testing.T) {
	h := newHarness(t, func(deps *Deps, h *testHarness) {
		deps.Conversation.Tools.MaxCalls = 1
	})
	h.chatModel.responses = []*schema.Message{
		schema.AssistantMessage(`<<TOOL: web_search {"query": "a"}>>`, nil),
		schema.AssistantMessage(`<<TOOL: web_search {"query": "b"}>> partial thoughts`, nil),
		schema.AssistantMessage("Final answer with what I have.", nil),
	}
	h.confirmer.outcome = func(req *model.ToolCallRequest) *model.ToolCallOutcome {
		return &model.ToolCallOutcome{Tool: req.Tool, ID: req.ID, Result: model.ToolResult{Status: model.ToolStatusSuccess, Data: "d"}}
	}

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "q"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Final answer with what I have.", result.Response)
	require.Len(t, h.chatModel.calls, 3)

	third := h.chatModel.calls[2]
	var sawNotice bool
	for _, m := range third {
		if m.Role == schema.System && strings.Contains(m.Content, "maximum tool call limit (1)") {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice, "wrap-up notice appended once the limit is hit")
}

func TestProcessQueryModelErrorClassified(t *testing.T) {
	h := newHarness(t, nil)
	h.chatModel.err = errors.New("RateLimitError: slow down")

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "q"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "⚠️ Error: Rate limit exceeded. Please try again in a moment.", result.Response)
	assert.Empty(t, h.history.appended, "failed queries are not persisted")
}

func TestProcessQueryModelInitFailure(t *testing.T) {
	h := newHarness(t, func(deps *Deps, h *testHarness) {
		deps.Models = &fakeModels{err: fmt.Errorf("no api key")}
	})

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "q"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "⚠️ Failed to initialize the requested model. Please check settings.", result.Response)
}

func TestProcessQueryCancellation(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.ProcessQuery(ctx, model.QueryInput{SessionID: "s1", Query: "q"}, nil)

	require.Error(t, err)
	assert.Empty(t, h.history.appended)
}

func TestProcessQuerySearchFoldsIntoPrompt(t *testing.T) {
	h := newHarness(t, func(deps *Deps, h *testHarness) {
		deps.Search = &fakeSearch{outcome: &model.SearchOutcome{
			Status:            "success",
			Mode:              model.SearchModeWebSearch,
			Query:             "results block\n\nBased on the web search results above, please answer: latest news",
			SystemInstruction: "use the results",
		}}
	})
	h.chatModel.responses = []*schema.Message{schema.AssistantMessage("Here's the news.", nil)}

	_, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "#web latest news"}, nil)
	require.NoError(t, err)

	require.Len(t, h.chatModel.calls, 1)
	input := h.chatModel.calls[0]
	final := input[len(input)-1]
	assert.Contains(t, final.Content, "Based on the web search results above")
	var sawInstruction bool
	for _, m := range input {
		if m.Role == schema.System && m.Content == "use the results" {
			sawInstruction = true
		}
	}
	assert.True(t, sawInstruction)
}

func TestProcessQueryMarkerProtocolAdvertisesTools(t *testing.T) {
	h := newHarness(t, func(deps *Deps, h *testHarness) {
		deps.Models = &fakeModels{chatModel: h.chatModel, protocol: invoke.ToolProtocolMarker}
		deps.ToolAdvertisement = "tool marker instructions"
	})
	h.chatModel.responses = []*schema.Message{schema.AssistantMessage("ok", nil)}

	_, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "q"}, nil)
	require.NoError(t, err)

	input := h.chatModel.calls[0]
	require.GreaterOrEqual(t, len(input), 3)
	assert.Equal(t, schema.System, input[2].Role)
	assert.Equal(t, "tool marker instructions", input[2].Content)
}

func TestProcessQueryStreaming(t *testing.T) {
	h := newHarness(t, nil)
	h.chatModel.responses = []*schema.Message{schema.AssistantMessage("streamed answer", nil)}

	var mu sync.Mutex
	var chunks []string
	onChunk := func(s string) {
		mu.Lock()
		chunks = append(chunks, s)
		mu.Unlock()
	}

	result, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{SessionID: "s1", Query: "q"}, onChunk)

	require.NoError(t, err)
	assert.Equal(t, "streamed answer", result.Response)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "streamed answer", strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)
}

func TestProcessQueryVisionDescription(t *testing.T) {
	h := newHarness(t, func(deps *Deps, h *testHarness) {
		deps.Vision = &fakeVision{configured: true, description: "a red square"}
	})
	h.chatModel.responses = []*schema.Message{schema.AssistantMessage("It is a red square.", nil)}

	_, err := h.orch.ProcessQuery(context.Background(), model.QueryInput{
		SessionID: "s1",
		Query:     "what is this?",
		ImageData: "aGVsbG8=",
	}, nil)
	require.NoError(t, err)

	input := h.chatModel.calls[0]
	final := input[len(input)-1]
	assert.Contains(t, final.Content, "=====VISUAL_DESCRIPTION=====")
	assert.Contains(t, final.Content, "a red square")
}

func TestClearSession(t *testing.T) {
	h := newHarness(t, nil)
	h.history.appended = []*schema.Message{schema.UserMessage("old")}

	require.NoError(t, h.orch.ClearSession(context.Background(), "s1"))
	assert.Empty(t, h.history.appended)
}

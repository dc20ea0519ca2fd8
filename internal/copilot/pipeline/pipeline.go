package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/contextparse"
	"github.com/hoverquill/server/internal/copilot/invoke"
	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/postprocess"
	"github.com/hoverquill/server/internal/copilot/search"
	"github.com/hoverquill/server/internal/copilot/vision"
	logx "github.com/hoverquill/server/pkg/logger"
)

const defaultMaxToolCalls = 10

// StreamFunc receives response chunks as they arrive from the model.
type StreamFunc func(chunk string)

// SearchResolver is the search collaborator boundary.
type SearchResolver interface {
	Classify(query string, qctx search.QueryContext) search.Plan
	Execute(ctx context.Context, plan search.Plan, selectedText string) *model.SearchOutcome
}

// MessageAssembler builds the ordered turn list for one model call.
type MessageAssembler interface {
	Assemble(ctx context.Context, state *model.ConversationState) ([]*schema.Message, error)
}

// ModelSource resolves a model name to a ready invoker.
type ModelSource interface {
	Invoker(ctx context.Context, modelName string) (*invoke.Invoker, error)
}

// Confirmer blocks on user confirmation for a tool call and always resolves
// to an outcome.
type Confirmer interface {
	Await(ctx context.Context, req *model.ToolCallRequest, progress func(string)) *model.ToolCallOutcome
}

// stage tags one step of the query pipeline; the interpreter loop walks
// stages until stageDone.
type stage int

const (
	stageParse stage = iota
	stageSearch
	stageVision
	stageAssemble
	stageInvoke
	stageToolCall
	stageFinalize
	stageDone
)

type nodeFunc func(ctx context.Context, run *queryRun) (stage, error)

// Orchestrator drives one query through parse, search, vision, assembly,
// model invocation, the confirmation-gated tool loop, and postprocessing.
// Sessions are serialized: one query per session at a time.
type Orchestrator struct {
	conv      model.ConversationConfig
	history   model.HistoryRepository
	search    SearchResolver
	vision    vision.Preprocessor
	assembler MessageAssembler
	models    ModelSource
	confirmer Confirmer
	toolBlock string

	mu       sync.Mutex
	sessions map[string]*sessionContext
}

type sessionContext struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Conversation model.ConversationConfig
	History      model.HistoryRepository
	Search       SearchResolver
	Vision       vision.Preprocessor
	Assembler    MessageAssembler
	Models       ModelSource
	Confirmer    Confirmer
	// ToolAdvertisement is the rendered marker-protocol tool block injected
	// for providers without native function calling. Empty disables it.
	ToolAdvertisement string
}

func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		conv:      deps.Conversation,
		history:   deps.History,
		search:    deps.Search,
		vision:    deps.Vision,
		assembler: deps.Assembler,
		models:    deps.Models,
		confirmer: deps.Confirmer,
		toolBlock: deps.ToolAdvertisement,
		sessions:  make(map[string]*sessionContext),
	}
}

// queryRun is the per-query working set threaded through the node funcs.
type queryRun struct {
	in      model.QueryInput
	state   *model.ConversationState
	invoker *invoke.Invoker
	onChunk StreamFunc
}

func (r *queryRun) progress(s string) {
	if r.onChunk != nil {
		r.onChunk(s)
	}
}

// ProcessQuery runs one query end to end. Model and pipeline failures are
// folded into the response text; the returned error is reserved for
// cancellation.
func (o *Orchestrator) ProcessQuery(ctx context.Context, in model.QueryInput, onChunk StreamFunc) (*model.Result, error) {
	sess := o.session(in.SessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	sess.cancel = cancel
	o.mu.Unlock()

	run := &queryRun{
		in:      in,
		state:   &model.ConversationState{SessionID: in.SessionID, ModelName: in.Model},
		onChunk: onChunk,
	}

	st := stageParse
	for st != stageDone {
		if err := ctx.Err(); err != nil {
			logx.Warn().Str("session", in.SessionID).Msg("query cancelled")
			return nil, err
		}
		next, err := o.node(st)(ctx, run)
		if err != nil {
			return nil, err
		}
		st = next
	}

	return &model.Result{
		Response:         run.state.Response,
		DetectedLanguage: run.state.DetectedLanguage,
	}, nil
}

// Cancel aborts the session's in-flight query, if any.
func (o *Orchestrator) Cancel(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[sessionID]; ok && sess.cancel != nil {
		sess.cancel()
	}
}

// ClearSession drops the session's persisted history.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	return o.history.ClearHistory(ctx, sessionID)
}

func (o *Orchestrator) session(id string) *sessionContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[id]; ok {
		return sess
	}
	sess := &sessionContext{}
	o.sessions[id] = sess
	return sess
}

func (o *Orchestrator) node(st stage) nodeFunc {
	switch st {
	case stageParse:
		return o.parseNode
	case stageSearch:
		return o.searchNode
	case stageVision:
		return o.visionNode
	case stageAssemble:
		return o.assembleNode
	case stageInvoke:
		return o.invokeNode
	case stageToolCall:
		return o.toolCallNode
	case stageFinalize:
		return o.finalizeNode
	default:
		return func(context.Context, *queryRun) (stage, error) {
			return stageDone, fmt.Errorf("unknown pipeline stage %d", st)
		}
	}
}

func (o *Orchestrator) parseNode(_ context.Context, run *queryRun) (stage, error) {
	parsed := contextparse.Parse(run.in.Query)

	state := run.state
	state.Query = parsed.Query
	state.Mode = parsed.Mode
	state.SelectedText = parsed.SelectedText
	state.ImageData = parsed.ImageData
	state.UseWebSearch = parsed.UseWebSearch
	state.UseVision = parsed.UseVision
	if run.in.ImageData != "" {
		state.ImageData = run.in.ImageData
		state.UseVision = true
	}

	logx.Debug().
		Str("session", state.SessionID).
		Str("mode", string(state.Mode)).
		Bool("web_search", state.UseWebSearch).
		Bool("has_image", state.ImageData != "").
		Msg("query parsed")
	return stageSearch, nil
}

func (o *Orchestrator) searchNode(ctx context.Context, run *queryRun) (stage, error) {
	state := run.state
	plan := o.search.Classify(state.Query, search.QueryContext{
		SelectedText: state.SelectedText,
		WebSearch:    state.UseWebSearch,
	})
	if plan.Mode == model.SearchModeNone {
		return stageVision, nil
	}

	state.Query = plan.Query
	state.WebSearchResults = o.search.Execute(ctx, plan, state.SelectedText)
	return stageVision, nil
}

func (o *Orchestrator) visionNode(ctx context.Context, run *queryRun) (stage, error) {
	state := run.state
	if state.ImageData == "" {
		return stageAssemble, nil
	}

	state.VisionConfigured = o.vision.Configured()
	if !state.VisionConfigured {
		return stageAssemble, nil
	}

	description, err := o.vision.Describe(ctx, state.ImageData, state.Query)
	if err != nil {
		logx.Warn().Err(err).Msg("vision preprocessing failed, degrading to failure note")
		return stageAssemble, nil
	}
	state.VisionDescription = description
	return stageAssemble, nil
}

func (o *Orchestrator) assembleNode(ctx context.Context, run *queryRun) (stage, error) {
	state := run.state

	inv, err := o.models.Invoker(ctx, state.ModelName)
	if err != nil {
		logx.Error().Err(err).Str("model", state.ModelName).Msg("model initialization failed")
		state.Response = "⚠️ Failed to initialize the requested model. Please check settings."
		return stageDone, nil
	}
	run.invoker = inv

	messages, err := o.assembler.Assemble(ctx, state)
	if err != nil {
		logx.Error().Err(err).Msg("message assembly failed")
		state.Response = fmt.Sprintf("⚠️ Error preparing messages: %s", err)
		return stageDone, nil
	}

	if inv.Protocol == invoke.ToolProtocolMarker && o.toolBlock != "" && len(messages) >= 2 {
		withBlock := make([]*schema.Message, 0, len(messages)+1)
		withBlock = append(withBlock, messages[:2]...)
		withBlock = append(withBlock, schema.SystemMessage(o.toolBlock))
		withBlock = append(withBlock, messages[2:]...)
		messages = withBlock
	}

	if state.ToolCallLimitReached {
		messages = append(messages, schema.SystemMessage(fmt.Sprintf(
			"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
				"Please synthesize a helpful response using the information you've already gathered. "+
				"Acknowledge any limitations in your response if you couldn't complete all necessary tool calls.",
			normalizeMaxToolCalls(o.conv.Tools.MaxCalls),
		)))
	}

	state.Messages = messages
	return stageInvoke, nil
}

func (o *Orchestrator) invokeNode(ctx context.Context, run *queryRun) (stage, error) {
	state := run.state

	out, err := run.generate(ctx, state.Messages)
	if err != nil {
		if ctx.Err() != nil {
			return stageDone, ctx.Err()
		}
		logx.Error().Err(err).Str("model", run.invoker.Name).Msg("model invocation failed")
		state.Response = invoke.ClassifyError(err)
		return stageDone, nil
	}

	req, cleaned := invoke.DetectToolCall(out)
	state.Response = cleaned

	if req != nil && !state.ToolCallLimitReached {
		state.PendingToolCall = req
		return stageToolCall, nil
	}
	return stageFinalize, nil
}

func (o *Orchestrator) toolCallNode(ctx context.Context, run *queryRun) (stage, error) {
	state := run.state
	req := state.PendingToolCall
	if req == nil {
		logx.Warn().Msg("tool call stage entered without a pending request")
		return stageFinalize, nil
	}
	state.PendingToolCall = nil

	state.ToolCallCount++
	if state.ToolCallCount > normalizeMaxToolCalls(o.conv.Tools.MaxCalls) {
		state.ToolCallLimitReached = true
	}

	outcome := o.confirmer.Await(ctx, req, run.progress)
	if ctx.Err() != nil {
		return stageDone, ctx.Err()
	}
	state.ToolCallResult = outcome
	return stageAssemble, nil
}

func (o *Orchestrator) finalizeNode(ctx context.Context, run *queryRun) (stage, error) {
	state := run.state
	state.Response, state.DetectedLanguage = postprocess.Process(state.Response, state.Mode)

	if err := ctx.Err(); err != nil {
		return stageDone, err
	}

	// History gets exactly the final exchange: the closing user turn from the
	// last assembly and the finalized assistant answer.
	if len(state.Messages) > 0 {
		finalUser := state.Messages[len(state.Messages)-1]
		if err := o.history.AddMessage(ctx, state.SessionID, finalUser); err != nil {
			logx.Warn().Err(err).Msg("failed to persist user turn")
		}
	}
	if err := o.history.AddMessage(ctx, state.SessionID, schema.AssistantMessage(state.Response, nil)); err != nil {
		logx.Warn().Err(err).Msg("failed to persist assistant turn")
	}

	return stageDone, nil
}

// generate invokes the model, streaming when a chunk callback is present.
func (r *queryRun) generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	if r.onChunk == nil {
		return r.invoker.ChatModel.Generate(ctx, messages)
	}

	reader, err := r.invoker.ChatModel.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			r.onChunk(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	return schema.ConcatMessages(chunks)
}

func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return defaultMaxToolCalls
	}
	return n
}

package toolconfirm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/tools"
	logx "github.com/hoverquill/server/pkg/logger"
)

const timeoutMessage = "Timeout waiting for user confirmation"

// ConfirmationChannel is the user-facing side of a tool confirmation: it
// surfaces the request and later delivers the outcome back through the
// Completer it was wired with.
type ConfirmationChannel interface {
	RequestToolCall(ctx context.Context, tool string, args map[string]any) error
}

// Completer receives resolved tool outcomes from a ConfirmationChannel.
type Completer interface {
	Complete(outcome *model.ToolCallOutcome)
}

type phase int

const (
	phaseIdle phase = iota
	phaseAwaiting
)

// Coordinator serializes tool confirmations: one request may be in flight at
// a time, and the user's decision (or a timeout) always produces an outcome,
// never an error escaping to the caller.
type Coordinator struct {
	channel  ConfirmationChannel
	registry *tools.Registry
	timeout  time.Duration
	poll     time.Duration

	mu       sync.Mutex
	phase    phase
	resultCh chan *model.ToolCallOutcome
}

func NewCoordinator(channel ConfirmationChannel, registry *tools.Registry, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Coordinator{
		channel:  channel,
		registry: registry,
		timeout:  timeout,
		poll:     time.Second,
	}
}

// Await surfaces the request and blocks until the user decides, the timeout
// elapses, or ctx is cancelled. The progress callback, when non-nil, receives
// a waiting banner roughly once per second while blocked.
func (c *Coordinator) Await(ctx context.Context, req *model.ToolCallRequest, progress func(string)) *model.ToolCallOutcome {
	c.mu.Lock()
	if c.phase != phaseIdle {
		c.mu.Unlock()
		logx.Warn().Str("tool", req.Tool).Msg("tool confirmation requested while another is in flight")
		return errorOutcome(req, "A tool call is already awaiting confirmation")
	}
	c.phase = phaseAwaiting
	c.resultCh = make(chan *model.ToolCallOutcome, 1)
	resultCh := c.resultCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.phase = phaseIdle
		c.resultCh = nil
		c.mu.Unlock()
	}()

	if err := c.channel.RequestToolCall(ctx, req.Tool, req.Args); err != nil {
		logx.Error().Err(err).Str("tool", req.Tool).Msg("failed to surface tool confirmation request")
		return errorOutcome(req, fmt.Sprintf("Error waiting for response: %s", err))
	}

	logx.Info().Str("tool", req.Tool).Str("id", req.ID).Msg("waiting for user to confirm tool call")

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	start := time.Now()

	for {
		select {
		case outcome := <-resultCh:
			logx.Info().Str("tool", req.Tool).Dur("waited", time.Since(start)).Msg("received user response for tool call")
			return c.finalize(req, outcome)

		case <-ticker.C:
			if progress != nil {
				dots := strings.Repeat(".", int(time.Since(start).Seconds())%4)
				progress(fmt.Sprintf("\n\n[Waiting for your confirmation to use the tool%s]", dots))
			}

		case <-deadline.C:
			logx.Warn().Str("tool", req.Tool).Msg("timeout waiting for tool call confirmation")
			return errorOutcome(req, timeoutMessage)

		case <-ctx.Done():
			logx.Warn().Str("tool", req.Tool).Msg("context cancelled while waiting for tool call confirmation")
			return errorOutcome(req, fmt.Sprintf("Error waiting for response: %s", ctx.Err()))
		}
	}
}

// Complete delivers a channel outcome to the blocked Await. Outcomes arriving
// with no waiter (late delivery after timeout or cancel) are dropped.
func (c *Coordinator) Complete(outcome *model.ToolCallOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != phaseAwaiting || c.resultCh == nil {
		logx.Warn().Str("tool", outcome.Tool).Msg("tool outcome arrived with no confirmation in flight, dropping")
		return
	}
	select {
	case c.resultCh <- outcome:
	default:
		logx.Warn().Str("tool", outcome.Tool).Msg("duplicate tool outcome dropped")
	}
}

// finalize reconciles the channel's internal id with the model-supplied one
// and enriches non-rejected outcomes with tool metadata.
func (c *Coordinator) finalize(req *model.ToolCallRequest, outcome *model.ToolCallOutcome) *model.ToolCallOutcome {
	if outcome == nil {
		return errorOutcome(req, "Tool confirmation resolved without a result")
	}

	if outcome.ID != req.ID {
		logx.Info().Str("internal_id", outcome.ID).Str("call_id", req.ID).Msg("reconciling tool outcome id with model-supplied id")
	}
	outcome.ID = req.ID
	if outcome.Tool == "" {
		outcome.Tool = req.Tool
	}

	if !outcome.Rejected() && outcome.Metadata == nil {
		outcome.Metadata = map[string]any{
			"tool_description": c.registry.Description(outcome.Tool),
			"timestamp":        time.Now().Unix(),
		}
	}
	return outcome
}

func errorOutcome(req *model.ToolCallRequest, message string) *model.ToolCallOutcome {
	return &model.ToolCallOutcome{
		Tool: req.Tool,
		ID:   req.ID,
		Result: model.ToolResult{
			Status:  model.ToolStatusError,
			Message: message,
		},
	}
}

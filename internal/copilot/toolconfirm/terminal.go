package toolconfirm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/tools"
	logx "github.com/hoverquill/server/pkg/logger"
)

// TerminalChannel confirms tool calls over a line-based terminal: it prints
// the request, reads a y/n answer, executes the tool on approval, and hands
// the outcome to the Completer.
type TerminalChannel struct {
	in        *bufio.Reader
	out       io.Writer
	registry  *tools.Registry
	completer Completer
}

func NewTerminalChannel(in io.Reader, out io.Writer, registry *tools.Registry) *TerminalChannel {
	return &TerminalChannel{
		in:       bufio.NewReader(in),
		out:      out,
		registry: registry,
	}
}

// Bind wires the completer after construction; the coordinator and channel
// reference each other.
func (t *TerminalChannel) Bind(completer Completer) {
	t.completer = completer
}

func (t *TerminalChannel) RequestToolCall(ctx context.Context, tool string, args map[string]any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	fmt.Fprintf(t.out, "\nThe model wants to run the %s tool with arguments %s.\nAllow? [y/N]: ", tool, argsJSON)

	go t.readDecision(ctx, tool, args)
	return nil
}

func (t *TerminalChannel) readDecision(ctx context.Context, tool string, args map[string]any) {
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		logx.Error().Err(err).Msg("failed to read tool confirmation answer")
		t.completer.Complete(&model.ToolCallOutcome{
			Tool:   tool,
			Result: model.ToolResult{Status: model.ToolStatusError, Message: fmt.Sprintf("Error waiting for response: %s", err)},
		})
		return
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		t.completer.Complete(&model.ToolCallOutcome{
			Tool:   tool,
			Result: model.ToolResult{Status: model.ToolStatusRejected},
		})
		return
	}

	registered, ok := t.registry.Get(tool)
	if !ok {
		t.completer.Complete(&model.ToolCallOutcome{
			Tool:   tool,
			Result: model.ToolResult{Status: model.ToolStatusError, Message: fmt.Sprintf("Unknown tool: %s", tool)},
		})
		return
	}

	result := registered.Execute(ctx, args)
	t.completer.Complete(&model.ToolCallOutcome{Tool: tool, Result: result})
}

var _ ConfirmationChannel = (*TerminalChannel)(nil)

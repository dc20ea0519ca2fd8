package invoke

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/hoverquill/server/internal/copilot/model"
	logx "github.com/hoverquill/server/pkg/logger"
)

var (
	toolMarkerPattern = regexp.MustCompile(`(?s)<<TOOL:\s*(\w+)\s*(\{.*?\})>>`)
	toolMarkerStrip   = regexp.MustCompile(`(?s)<<TOOL:.*?>>`)
)

// NewCallID mints a correlation id for tool calls the model did not label.
func NewCallID() string {
	u := uuid.New()
	return "call_" + hex.EncodeToString(u[:])[:24]
}

// DetectToolCall inspects a model response for a tool invocation and returns
// the request plus the response text with any marker removed. Detection runs
// in three tiers: the inline <<TOOL: ...>> marker protocol, native tool-call
// fields, then legacy provider shapes carried in Extra. A marker whose JSON
// arguments fail to parse is treated as no tool call at all.
func DetectToolCall(msg *schema.Message) (*model.ToolCallRequest, string) {
	text := strings.TrimSpace(msg.Content)

	if strings.Contains(text, "<<TOOL:") {
		if m := toolMarkerPattern.FindStringSubmatch(text); m != nil {
			var args map[string]any
			if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
				logx.Error().Err(err).Str("tool", m[1]).Msg("tool marker args are not valid JSON, ignoring marker")
				return nil, text
			}
			cleaned := strings.TrimSpace(toolMarkerStrip.ReplaceAllString(text, ""))
			logx.Info().Str("tool", m[1]).Msg("tool call marker detected in response")
			return &model.ToolCallRequest{Tool: m[1], Args: args, ID: NewCallID()}, cleaned
		}
		logx.Warn().Msg("tool marker prefix found but format could not be parsed")
		return nil, text
	}

	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			logx.Error().Err(err).Str("tool", call.Function.Name).Msg("native tool call args are not valid JSON")
			return nil, text
		}
		id := call.ID
		if id == "" {
			id = NewCallID()
		}
		logx.Info().Str("tool", call.Function.Name).Str("id", id).Msg("native tool call detected")
		return &model.ToolCallRequest{Tool: call.Function.Name, Args: args, ID: id}, text
	}

	if req := detectLegacyToolCall(msg.Extra); req != nil {
		return req, text
	}

	return nil, text
}

// detectLegacyToolCall handles provider payloads that predate structured
// tool-call fields: function_call, tool_use, and tool_calls arrays in both
// nested-function and flat shapes.
func detectLegacyToolCall(extra map[string]any) *model.ToolCallRequest {
	if len(extra) == 0 {
		return nil
	}

	if fc, ok := extra["function_call"].(map[string]any); ok {
		name, _ := fc["name"].(string)
		rawArgs, _ := fc["arguments"].(string)
		if name == "" || rawArgs == "" {
			return nil
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			logx.Error().Err(err).Str("tool", name).Msg("legacy function_call args are not valid JSON")
			return nil
		}
		return &model.ToolCallRequest{Tool: name, Args: args, ID: extraID(fc)}
	}

	if tu, ok := extra["tool_use"].(map[string]any); ok {
		name, _ := tu["name"].(string)
		args, hasInput := tu["input"].(map[string]any)
		if name == "" || !hasInput {
			return nil
		}
		return &model.ToolCallRequest{Tool: name, Args: args, ID: extraID(tu)}
	}

	if calls, ok := extra["tool_calls"].([]any); ok && len(calls) > 0 {
		first, ok := calls[0].(map[string]any)
		if !ok {
			return nil
		}
		if fn, ok := first["function"].(map[string]any); ok {
			name, _ := fn["name"].(string)
			rawArgs, _ := fn["arguments"].(string)
			if rawArgs == "" {
				rawArgs = "{}"
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				logx.Error().Err(err).Str("tool", name).Msg("legacy tool_calls args are not valid JSON")
				return nil
			}
			return &model.ToolCallRequest{Tool: name, Args: args, ID: extraID(first)}
		}
		name, _ := first["name"].(string)
		args, _ := first["args"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		return &model.ToolCallRequest{Tool: name, Args: args, ID: extraID(first)}
	}

	return nil
}

func extraID(m map[string]any) string {
	if id, ok := m["id"].(string); ok && id != "" {
		return id
	}
	return NewCallID()
}

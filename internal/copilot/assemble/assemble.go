package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/prompts"
	"github.com/hoverquill/server/internal/copilot/tools"
	logx "github.com/hoverquill/server/pkg/logger"
)

const (
	selectedTextSentinel = "=====SELECTED_TEXT====="

	rejectionNotice = "The user rejected this tool call request. Please proceed without using this tool."
)

// Assembler builds the ordered turn list for one model call: base system
// prompt, mode instruction, bounded history, injected tool/search turns,
// final user turn. The ordering is fixed; the model's reading of context
// depends on it.
type Assembler struct {
	history      model.HistoryRepository
	historyLimit int
	systemPrompt string
}

func New(history model.HistoryRepository, historyLimit int, systemPrompt string) *Assembler {
	return &Assembler{
		history:      history,
		historyLimit: historyLimit,
		systemPrompt: systemPrompt,
	}
}

// Assemble constructs the message list from state plus persisted history.
// Consumed one-shot slots (tool_call_result, web_search_results) are cleared
// from state so a subsequent assembly for the same logical turn cannot fold
// them twice.
func (a *Assembler) Assemble(ctx context.Context, state *model.ConversationState) ([]*schema.Message, error) {
	messages := []*schema.Message{
		schema.SystemMessage(a.systemPrompt),
		schema.SystemMessage(prompts.ModeInstruction(state.Mode)),
	}

	if a.history != nil && state.SessionID != "" {
		hist, err := a.history.LoadHistory(ctx, state.SessionID, a.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		messages = append(messages, hist.Messages...)
	}

	messages = append(messages, a.foldToolResult(state)...)

	finalQueryText := state.Query
	if injected, query := a.foldWebResults(state); query != "" {
		finalQueryText = query
		messages = append(messages, injected...)
	}

	if state.SelectedText != "" && !strings.Contains(finalQueryText, selectedTextSentinel) {
		finalQueryText += fmt.Sprintf("\n\n%s<text selected by the user>\n%s\n=======================", selectedTextSentinel, state.SelectedText)
	}

	messages = append(messages, a.finalUserTurn(state, finalQueryText))
	return messages, nil
}

// foldToolResult converts a pending ToolCallOutcome into a tool-result turn
// (plus a steering system turn on non-rejected outcomes) and clears the slot.
func (a *Assembler) foldToolResult(state *model.ConversationState) []*schema.Message {
	outcome := state.ToolCallResult
	if outcome == nil {
		return nil
	}
	state.ToolCallResult = nil

	if outcome.Rejected() {
		logx.Info().Str("tool", outcome.Tool).Msg("folding tool rejection into messages")
		return []*schema.Message{schema.ToolMessage(rejectionNotice, outcome.ID)}
	}

	content := toolResultContent(outcome)
	steering := fmt.Sprintf("This is the result of the %s tool call you requested. Incorporate this information into your response to the user.", outcome.Tool)
	logx.Info().Str("tool", outcome.Tool).Str("id", outcome.ID).Msg("folding tool result into messages")
	return []*schema.Message{
		schema.ToolMessage(content, outcome.ID),
		schema.SystemMessage(steering),
	}
}

// toolResultContent extracts the payload for known tools and falls back to a
// pretty-printed serialization with an attribution header for everything
// else (including error outcomes).
func toolResultContent(outcome *model.ToolCallOutcome) string {
	if outcome.Result.Status == model.ToolStatusSuccess && outcome.Result.Data != "" {
		switch outcome.Tool {
		case tools.ToolWebSearch, tools.ToolSystemInfo:
			return outcome.Result.Data
		default:
			return fmt.Sprintf("Result from %s tool:\n\n%s", outcome.Tool, outcome.Result.Data)
		}
	}

	formatted, err := json.MarshalIndent(outcome.Result, "", "  ")
	if err != nil {
		formatted = []byte(fmt.Sprintf("%+v", outcome.Result))
	}
	return fmt.Sprintf("Result from %s tool:\n\n%s", outcome.Tool, formatted)
}

// foldWebResults rewrites the outgoing query from a SearchOutcome and emits
// any supplied system instruction turn, clearing the slot. An empty returned
// query means no rewrite happened.
func (a *Assembler) foldWebResults(state *model.ConversationState) ([]*schema.Message, string) {
	results := state.WebSearchResults
	if results == nil {
		return nil, ""
	}
	state.WebSearchResults = nil

	switch results.Status {
	case "error":
		logx.Error().Str("error", results.Err).Msg("web search/scrape failed, folding error into query")
		errText := results.Err
		if errText == "" {
			errText = "Unknown error"
		}
		rewritten := fmt.Sprintf(
			"I tried to perform a %s based on the query '%s' but encountered an error: %s. Please answer the original query '%s' without the web results.",
			results.Mode.Describe(), state.Query, errText, state.Query,
		)
		return nil, rewritten
	case "success":
		if results.Query == "" {
			logx.Warn().Msg("web search succeeded without a formatted query, keeping original")
			return nil, ""
		}
		var injected []*schema.Message
		if results.SystemInstruction != "" {
			injected = append(injected, schema.SystemMessage(results.SystemInstruction))
		}
		return injected, results.Query
	default:
		logx.Warn().Str("status", results.Status).Msg("web search results with unexpected status ignored")
		return nil, ""
	}
}

// finalUserTurn builds the closing user turn in one of four shapes: plain
// text, text plus vision description, text plus vision-failure note, or a
// multimodal text+image message.
func (a *Assembler) finalUserTurn(state *model.ConversationState, queryText string) *schema.Message {
	switch {
	case state.VisionDescription != "":
		content := fmt.Sprintf("%s\n\n=====VISUAL_DESCRIPTION=====<description generated by vision model>\n%s\n=======================", queryText, state.VisionDescription)
		return schema.UserMessage(content)

	case state.ImageData != "" && state.VisionConfigured:
		content := queryText + "\n\n=====SYSTEM_NOTE=====\n(Failed to process the provided visual input using the configured vision model.)\n====================="
		return schema.UserMessage(content)

	case state.ImageData != "":
		imageData := model.StripDataPrefix(state.ImageData)
		return &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: queryText},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL: "data:image/png;base64," + imageData,
					},
				},
			},
		}

	default:
		return schema.UserMessage(queryText)
	}
}

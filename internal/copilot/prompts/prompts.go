package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/model"
)

//go:embed template/system_prompt.txt
var baseSystemPrompt string

//go:embed template/compose_mode.txt
var composeModeInstruction string

//go:embed template/chat_mode.txt
var chatModeInstruction string

//go:embed template/vision_system.txt
var visionSystemPrompt string

//go:embed template/search_optimize.txt
var searchOptimizeTemplate string

//go:embed template/web_results_instruction.txt
var webResultsInstruction string

//go:embed template/scraped_instruction.txt
var scrapedInstruction string

//go:embed template/tool_marker.txt
var toolMarkerTemplate string

//go:embed template/filename_suggestion.txt
var filenameSuggestionTemplate string

// RenderSystem renders the base system prompt, appending the user's custom
// instructions block when configured.
func RenderSystem(ctx context.Context, config model.PromptConfig) (string, error) {
	content := strings.TrimSpace(baseSystemPrompt)
	if ci := strings.TrimSpace(config.CustomInstructions); ci != "" {
		content = fmt.Sprintf("%s\n\n=====CUSTOM_INSTRUCTIONS=====<user-defined instructions>\n%s\n=======================", content, ci)
	}
	return renderSystemMessage(ctx, "system", content)
}

// ModeInstruction returns the fixed per-mode instruction block.
func ModeInstruction(mode model.Mode) string {
	if mode == model.ModeCompose {
		return strings.TrimSpace(composeModeInstruction)
	}
	return strings.TrimSpace(chatModeInstruction)
}

// VisionSystem returns the system prompt for the vision describe pass.
func VisionSystem() string {
	return strings.TrimSpace(visionSystemPrompt)
}

// WebResultsInstruction returns the system instruction accompanying web
// search result blocks.
func WebResultsInstruction() string {
	return strings.TrimSpace(webResultsInstruction)
}

// ScrapedContentInstruction returns the system instruction accompanying
// scraped URL content blocks.
func ScrapedContentInstruction() string {
	return strings.TrimSpace(scrapedInstruction)
}

// RenderSearchOptimization renders the query-optimization prompt for the
// search collaborator's LLM rewrite hook.
func RenderSearchOptimization(ctx context.Context, userQuery string) (string, error) {
	content := strings.NewReplacer(
		"{user_query}", userQuery,
	).Replace(strings.TrimSpace(searchOptimizeTemplate))
	return renderSystemMessage(ctx, "search optimization", content)
}

// RenderToolAdvertisement renders the in-text tool marker instructions for
// providers without native function calling.
func RenderToolAdvertisement(ctx context.Context, infos []*schema.ToolInfo) (string, error) {
	var b strings.Builder
	for _, info := range infos {
		if info == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Desc)
	}
	content := strings.NewReplacer(
		"{tool_list}", strings.TrimSpace(b.String()),
	).Replace(strings.TrimSpace(toolMarkerTemplate))
	return renderSystemMessage(ctx, "tool advertisement", content)
}

// RenderFilenameSuggestion renders the filename-suggestion prompt for a
// composed piece of content.
func RenderFilenameSuggestion(ctx context.Context, extension, extensionHint, recentQuery, content string) (string, error) {
	rendered := strings.NewReplacer(
		"{file_extension}", extension,
		"{extension_hint}", extensionHint,
		"{recent_query}", recentQuery,
		"{content}", content,
	).Replace(strings.TrimSpace(filenameSuggestionTemplate))
	return renderSystemMessage(ctx, "filename suggestion", rendered)
}

// renderSystemMessage wraps pre-substituted content through the Eino prompt
// component using a messages placeholder, so prompt callbacks still fire
// without FString re-interpreting braces inside the content.
func renderSystemMessage(ctx context.Context, name, content string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("%s prompt callbacks: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt callbacks: empty result", name)
	}
	return msgs[0].Content, nil
}

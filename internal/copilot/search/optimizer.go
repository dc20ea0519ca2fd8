package search

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/prompts"
)

// LLMOptimizer rewrites raw queries into search-engine-friendly ones using a
// chat model.
type LLMOptimizer struct {
	chatModel einomodel.BaseChatModel
}

func NewLLMOptimizer(chatModel einomodel.BaseChatModel) *LLMOptimizer {
	return &LLMOptimizer{chatModel: chatModel}
}

func (o *LLMOptimizer) Optimize(ctx context.Context, query string) (string, error) {
	if o.chatModel == nil {
		return "", fmt.Errorf("no model configured")
	}
	promptText, err := prompts.RenderSearchOptimization(ctx, query)
	if err != nil {
		return "", err
	}
	out, err := o.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(promptText)})
	if err != nil {
		return "", err
	}
	optimized := strings.Trim(strings.TrimSpace(out.Content), `"`)
	if optimized == "" {
		return "", fmt.Errorf("empty optimized query")
	}
	return optimized, nil
}

var _ Optimizer = (*LLMOptimizer)(nil)

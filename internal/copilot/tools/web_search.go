package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/model"
)

// ToolWebSearch is the name the model uses to request a web search.
const ToolWebSearch = "web_search"

// Searcher performs a web search for a plain query and returns formatted
// result text. The search collaborator satisfies this.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// NewWebSearchTool wraps the search collaborator as a confirmable tool.
func NewWebSearchTool(searcher Searcher) *Tool {
	return &Tool{
		Info: &schema.ToolInfo{
			Name: ToolWebSearch,
			Desc: "Search the web for information about a topic",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "The search query to look up",
					Required: true,
				},
			}),
		},
		Execute: func(ctx context.Context, args map[string]any) model.ToolResult {
			query, _ := args["query"].(string)
			if query == "" {
				return model.ToolResult{
					Status:  model.ToolStatusError,
					Message: "web_search requires a non-empty 'query' argument",
				}
			}
			if searcher == nil {
				return model.ToolResult{
					Status:  model.ToolStatusError,
					Message: "web search is not configured",
				}
			}
			data, err := searcher.Search(ctx, query)
			if err != nil {
				return model.ToolResult{
					Status:  model.ToolStatusError,
					Message: fmt.Sprintf("web search failed: %v", err),
				}
			}
			return model.ToolResult{Status: model.ToolStatusSuccess, Data: data}
		},
	}
}

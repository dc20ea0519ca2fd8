package tools

import (
	"context"
	"sort"

	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/model"
)

// Executor runs a confirmed tool call and normalizes the outcome into a
// ToolResult. Executors never return Go errors; failures become
// ToolResult{Status: error}.
type Executor func(ctx context.Context, args map[string]any) model.ToolResult

// Tool pairs the model-facing schema with its executor.
type Tool struct {
	Info    *schema.ToolInfo
	Execute Executor
}

// Registry holds the confirmable tools the copilot can offer to a model.
type Registry struct {
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) Register(t *Tool) {
	if t == nil || t.Info == nil {
		return
	}
	r.tools[t.Info.Name] = t
}

func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Description returns the tool's description for metadata enrichment, or
// empty when unknown.
func (r *Registry) Description(name string) string {
	if t, ok := r.tools[name]; ok {
		return t.Info.Desc
	}
	return ""
}

// Infos lists the tool schemas in name order for model binding and the
// marker advertisement prompt.
func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, t.Info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/model"
)

// ToolSystemInfo is the name the model uses to request a host report.
const ToolSystemInfo = "system_info"

var systemInfoTypes = map[string]bool{
	"basic":  true,
	"memory": true,
	"cpu":    true,
	"all":    true,
}

// NewSystemInfoTool reports host details back to the model as a fenced JSON
// block.
func NewSystemInfoTool() *Tool {
	return &Tool{
		Info: &schema.ToolInfo{
			Name: ToolSystemInfo,
			Desc: "Retrieves system information including OS details, memory usage, and CPU information",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"info_type": {
					Type: "string",
					Desc: "Type of system information to retrieve",
					Enum: []string{"basic", "memory", "cpu", "all"},
				},
			}),
		},
		Execute: func(ctx context.Context, args map[string]any) model.ToolResult {
			infoType, _ := args["info_type"].(string)
			if infoType == "" {
				infoType = "basic"
			}
			if !systemInfoTypes[infoType] {
				return model.ToolResult{
					Status:  model.ToolStatusError,
					Message: fmt.Sprintf("Invalid info_type: %s. Must be one of [basic memory cpu all]", infoType),
				}
			}

			report := map[string]any{}
			if infoType == "basic" || infoType == "all" {
				hostname, _ := os.Hostname()
				report["system"] = map[string]any{
					"os":           runtime.GOOS,
					"architecture": runtime.GOARCH,
					"hostname":     hostname,
					"go_version":   runtime.Version(),
				}
			}
			if infoType == "memory" || infoType == "all" {
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				report["memory"] = map[string]any{
					"heap_alloc":  fmt.Sprintf("%.2f MB", float64(ms.HeapAlloc)/(1<<20)),
					"heap_sys":    fmt.Sprintf("%.2f MB", float64(ms.HeapSys)/(1<<20)),
					"total_alloc": fmt.Sprintf("%.2f MB", float64(ms.TotalAlloc)/(1<<20)),
					"num_gc":      ms.NumGC,
				}
			}
			if infoType == "cpu" || infoType == "all" {
				report["cpu"] = map[string]any{
					"cores_logical": runtime.NumCPU(),
					"gomaxprocs":    runtime.GOMAXPROCS(0),
				}
			}

			formatted, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return model.ToolResult{
					Status:  model.ToolStatusError,
					Message: fmt.Sprintf("Error retrieving system information: %v", err),
				}
			}
			return model.ToolResult{
				Status: model.ToolStatusSuccess,
				Data:   fmt.Sprintf("System Information:\n\n```json\n%s\n```", formatted),
			}
		},
	}
}

package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Mode selects how the copilot frames its answer.
type Mode string

const (
	// ModeChat produces conversational, explained answers.
	ModeChat Mode = "chat"
	// ModeCompose produces raw content with no conversational framing.
	ModeCompose Mode = "compose"
)

// ParseMode normalises a raw mode string; unknown values fall back to chat.
func ParseMode(v string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(v))) == ModeCompose {
		return ModeCompose
	}
	return ModeChat
}

// ToolCallRequest is a model-requested tool invocation awaiting confirmation.
// ID is the correlation token that must survive the confirmation round-trip
// and be re-attached to the eventual tool-result turn.
type ToolCallRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
	ID   string         `json:"id"`
}

// ToolStatus classifies the outcome of a confirmed (or refused) tool call.
type ToolStatus string

const (
	ToolStatusSuccess  ToolStatus = "success"
	ToolStatusError    ToolStatus = "error"
	ToolStatusRejected ToolStatus = "rejected"
)

// ToolResult is the payload half of a ToolCallOutcome.
type ToolResult struct {
	Status  ToolStatus `json:"status"`
	Data    string     `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ToolCallOutcome is produced by the tool-execution collaborator after the
// user decides, and consumed by the assembler to build a tool-result turn.
type ToolCallOutcome struct {
	Tool     string         `json:"tool"`
	ID       string         `json:"id"`
	Result   ToolResult     `json:"result"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Rejected reports whether the user declined the tool call.
func (o *ToolCallOutcome) Rejected() bool {
	return o != nil && o.Result.Status == ToolStatusRejected
}

// SearchMode classifies what the search collaborator decided to do.
type SearchMode string

const (
	SearchModeNone       SearchMode = ""
	SearchModeWebSearch  SearchMode = "web_search"
	SearchModeLinkScrape SearchMode = "link_scrape"
)

// Describe renders the mode for user-facing error text ("web search").
func (m SearchMode) Describe() string {
	if m == SearchModeNone {
		return "web task"
	}
	return strings.ReplaceAll(string(m), "_", " ")
}

// SearchOutcome is the result of executing a search or scrape. Errors are
// carried in Err, never raised: a failed search degrades to a plain answer.
type SearchOutcome struct {
	Status            string     `json:"status"` // "success" or "error"
	Mode              SearchMode `json:"mode"`
	Query             string     `json:"query"`
	SystemInstruction string     `json:"system_instruction,omitempty"`
	Err               string     `json:"error,omitempty"`
}

// ConversationState is the mutable record threaded through the pipeline for
// one query. Nodes mutate it in place; the interpreter loop owns sequencing.
type ConversationState struct {
	// Inputs
	Query        string
	SessionID    string
	Mode         Mode
	SelectedText string
	ImageData    string // base64, possibly with a data: URL prefix
	ModelName    string // explicit model override

	// Search stage
	UseWebSearch     bool
	WebSearchQuery   string
	WebSearchResults *SearchOutcome

	// Vision stage
	UseVision         bool
	VisionDescription string
	VisionConfigured  bool

	// Tool loop
	PendingToolCall      *ToolCallRequest
	ToolCallResult       *ToolCallOutcome
	ToolCallCount        int
	ToolCallLimitReached bool

	// Assembled turns for the next model call
	Messages []*schema.Message

	// Outputs
	Response         string
	DetectedLanguage string
}

// StripDataPrefix removes a `data:<mime>;base64,` URL prefix from image
// payloads so raw base64 can be re-wrapped consistently.
func StripDataPrefix(imageData string) string {
	if strings.HasPrefix(imageData, "data:") {
		if _, after, ok := strings.Cut(imageData, ","); ok {
			return after
		}
	}
	return imageData
}

// QueryInput is the public input for processing one user query.
type QueryInput struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Model     string `json:"model,omitempty"`
	ImageData string `json:"image_data,omitempty"`
}

// Result is the terminal output of the pipeline.
type Result struct {
	Response         string
	DetectedLanguage string
}

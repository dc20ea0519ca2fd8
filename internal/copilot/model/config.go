package model

// ================ Config ================
type ConversationConfig struct {
	TTL          string `envconfig:"SESSION_TTL" default:"24h"`
	HistoryLimit int    `envconfig:"CHAT_HISTORY_LIMIT" default:"20"`
	Tools        struct {
		MaxCalls       int    `envconfig:"TOOL_MAX_CALLS" default:"10"`
		ConfirmTimeout string `envconfig:"TOOL_CONFIRM_TIMEOUT" default:"120s"`
	}
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"4096"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.7"`
}

// VisionModelConfig configures the image-description pass. An empty Model
// leaves vision unconfigured and image payloads flow to the main model raw.
type VisionModelConfig struct {
	Model       string  `envconfig:"VISION_MODEL" default:""`
	MaxTokens   int     `envconfig:"VISION_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"VISION_TEMPERATURE" default:"0.2"`
}

type ProviderConfig struct {
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
}

type PromptConfig struct {
	CustomInstructions string `envconfig:"PROMPT_CUSTOM_INSTRUCTIONS" default:""`
}

type SearchConfig struct {
	Provider   string `envconfig:"SEARCH_PROVIDER" default:""`
	APIKey     string `envconfig:"SEARCH_API_KEY"`
	MaxResults int    `envconfig:"SEARCH_MAX_RESULTS" default:"5"`
}

package invoke

import (
	"context"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/hoverquill/server/internal/copilot/model"
	logx "github.com/hoverquill/server/pkg/logger"
)

// ToolProtocol says how tool availability is communicated to a model.
type ToolProtocol int

const (
	// ToolProtocolNative binds tool schemas through the provider API and
	// expects structured tool-call responses.
	ToolProtocolNative ToolProtocol = iota
	// ToolProtocolMarker advertises tools in a system turn and expects the
	// inline <<TOOL: ...>> marker in the response text.
	ToolProtocolMarker
)

// Invoker is a ready-to-call chat model plus the tool protocol it speaks.
type Invoker struct {
	ChatModel einomodel.BaseChatModel
	Name      string
	Protocol  ToolProtocol
}

// Factory builds and caches invokers per model name, so switching models
// mid-session rebuilds once and switching back reuses the earlier instance.
type Factory struct {
	providers model.ProviderConfig
	respCfg   model.ResponseModelConfig
	toolInfos []*schema.ToolInfo

	mu           sync.Mutex
	cache        map[string]*Invoker
	geminiClient *genai.Client
}

func NewFactory(providers model.ProviderConfig, respCfg model.ResponseModelConfig, toolInfos []*schema.ToolInfo) *Factory {
	return &Factory{
		providers: providers,
		respCfg:   respCfg,
		toolInfos: toolInfos,
		cache:     make(map[string]*Invoker),
	}
}

// Invoker returns the chat model for modelName, building it on first use.
// An empty modelName selects the configured default.
func (f *Factory) Invoker(ctx context.Context, modelName string) (*Invoker, error) {
	name := strings.TrimSpace(modelName)
	if name == "" {
		name = f.respCfg.Model
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if inv, ok := f.cache[name]; ok {
		return inv, nil
	}

	var (
		inv *Invoker
		err error
	)
	if isGeminiModel(name) {
		inv, err = f.buildGemini(ctx, name)
	} else {
		inv, err = f.buildOpenAICompatible(name)
	}
	if err != nil {
		return nil, err
	}

	logx.Info().Str("model", name).Msg("chat model initialized")
	f.cache[name] = inv
	return inv, nil
}

func isGeminiModel(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "gemini") || strings.HasPrefix(lower, "gemma")
}

func (f *Factory) buildGemini(ctx context.Context, name string) (*Invoker, error) {
	if f.providers.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini model %s requested but no Gemini API key is configured", name)
	}

	if f.geminiClient == nil {
		clientCfg := &genai.ClientConfig{
			APIKey:  f.providers.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if f.providers.GeminiBaseURL != "" {
			clientCfg.HTTPOptions.BaseURL = f.providers.GeminiBaseURL
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			logx.Error().Err(err).Msg("Error creating Gemini client")
			return nil, fmt.Errorf("error creating Gemini client: %w", err)
		}
		f.geminiClient = client
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      f.geminiClient,
		Model:       name,
		Temperature: &f.respCfg.Temperature,
		MaxTokens:   &f.respCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", name).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model %s: %w", name, err)
	}

	if len(f.toolInfos) > 0 {
		if err := chatModel.BindTools(f.toolInfos); err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools")
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	return &Invoker{ChatModel: chatModel, Name: name, Protocol: ToolProtocolNative}, nil
}

func (f *Factory) buildOpenAICompatible(name string) (*Invoker, error) {
	if f.providers.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("model %s requested but no OpenAI-compatible API key is configured", name)
	}

	chatModel := newOpenAIChatModel(openAIConfig{
		APIKey:      f.providers.OpenAIAPIKey,
		BaseURL:     f.providers.OpenAIBaseURL,
		Model:       name,
		Temperature: float64(f.respCfg.Temperature),
		MaxTokens:   f.respCfg.MaxTokens,
	})

	return &Invoker{ChatModel: chatModel, Name: name, Protocol: ToolProtocolMarker}, nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"google.golang.org/genai"

	"github.com/hoverquill/server/internal/copilot/assemble"
	"github.com/hoverquill/server/internal/copilot/contextparse"
	"github.com/hoverquill/server/internal/copilot/invoke"
	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/pipeline"
	"github.com/hoverquill/server/internal/copilot/postprocess"
	"github.com/hoverquill/server/internal/copilot/prompts"
	"github.com/hoverquill/server/internal/copilot/search"
	"github.com/hoverquill/server/internal/copilot/toolconfirm"
	"github.com/hoverquill/server/internal/copilot/tools"
	"github.com/hoverquill/server/internal/copilot/vision"
	"github.com/hoverquill/server/internal/core"
	"github.com/hoverquill/server/internal/history"
	logx "github.com/hoverquill/server/pkg/logger"
	pkgredis "github.com/hoverquill/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the copilot core,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// Providers and models
	Providers model.ProviderConfig
	Response  model.ResponseModelConfig
	Vision    model.VisionModelConfig

	// Pipeline tunables
	Prompt       model.PromptConfig
	Conversation model.ConversationConfig
	Search       model.SearchConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()
	logx.Info().Msg("connected to Redis")

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid SESSION_TTL '%s': %v", cfg.Conversation.TTL, err)
	}
	confirmTimeout, err := time.ParseDuration(cfg.Conversation.Tools.ConfirmTimeout)
	if err != nil {
		log.Fatalf("Invalid TOOL_CONFIRM_TIMEOUT '%s': %v", cfg.Conversation.Tools.ConfirmTimeout, err)
	}

	historyRepo := history.NewRedisHistoryRepository(rdb, ttl)

	systemPrompt, err := prompts.RenderSystem(ctx, cfg.Prompt)
	if err != nil {
		log.Fatalf("Failed to render system prompt: %v", err)
	}

	provider, err := search.NewProvider(cfg.Search.Provider, cfg.Search.APIKey)
	if err != nil {
		logx.Warn().Err(err).Msg("web search disabled")
	}
	resolver := search.NewResolver(provider, buildOptimizer(ctx, cfg), cfg.Search.MaxResults)

	registry := tools.NewRegistry()
	registry.Register(tools.NewWebSearchTool(resolver))
	registry.Register(tools.NewSystemInfoTool())
	registry.Register(tools.NewTerminalCommandTool())
	toolInfos := registry.Infos()

	toolBlock, err := prompts.RenderToolAdvertisement(ctx, toolInfos)
	if err != nil {
		log.Fatalf("Failed to render tool advertisement: %v", err)
	}

	factory := invoke.NewFactory(cfg.Providers, cfg.Response, toolInfos)

	preprocessor := buildVision(ctx, cfg)

	// Shared stdin reader: the confirmation channel reads the y/n answer on
	// the same reader the query loop uses, never concurrently.
	stdin := bufio.NewReader(os.Stdin)
	terminal := toolconfirm.NewTerminalChannel(stdin, os.Stdout, registry)
	coordinator := toolconfirm.NewCoordinator(terminal, registry, confirmTimeout)
	terminal.Bind(coordinator)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Conversation:      cfg.Conversation,
		History:           historyRepo,
		Search:            resolver,
		Vision:            preprocessor,
		Assembler:         assemble.New(historyRepo, cfg.Conversation.HistoryLimit, systemPrompt),
		Models:            factory,
		Confirmer:         coordinator,
		ToolAdvertisement: toolBlock,
	})

	suggester := buildSuggester(ctx, cfg, factory, systemPrompt)

	fmt.Println("hoverquill ready. Prefix with !session:<id>| to scope, !clear_session:<id> to reset.")
	runLoop(ctx, orch, suggester, stdin)
}

func newGeminiClient(ctx context.Context, providers model.ProviderConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  providers.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if providers.GeminiBaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = providers.GeminiBaseURL
	}
	return genai.NewClient(ctx, clientCfg)
}

// buildOptimizer creates the search query optimizer on a plain (tool-free)
// instance of the default model. Nil disables optimization.
func buildOptimizer(ctx context.Context, cfg AppConfig) search.Optimizer {
	if cfg.Providers.GeminiAPIKey == "" {
		return nil
	}
	client, err := newGeminiClient(ctx, cfg.Providers)
	if err != nil {
		logx.Warn().Err(err).Msg("search query optimization disabled")
		return nil
	}
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Response.Model,
		Temperature: &cfg.Response.Temperature,
		MaxTokens:   &cfg.Response.MaxTokens,
	})
	if err != nil {
		logx.Warn().Err(err).Msg("search query optimization disabled")
		return nil
	}
	return search.NewLLMOptimizer(chatModel)
}

func buildVision(ctx context.Context, cfg AppConfig) vision.Preprocessor {
	if cfg.Vision.Model == "" || cfg.Providers.GeminiAPIKey == "" {
		return vision.Unconfigured{}
	}

	client, err := newGeminiClient(ctx, cfg.Providers)
	if err != nil {
		logx.Warn().Err(err).Msg("vision client unavailable, images flow to the main model")
		return vision.Unconfigured{}
	}

	pre, err := vision.NewGeminiPreprocessor(ctx, client, cfg.Vision)
	if err != nil {
		logx.Warn().Err(err).Msg("vision model unavailable, images flow to the main model")
		return vision.Unconfigured{}
	}
	return pre
}

func buildSuggester(ctx context.Context, cfg AppConfig, factory *invoke.Factory, systemPrompt string) *postprocess.FilenameSuggester {
	inv, err := factory.Invoker(ctx, cfg.Response.Model)
	if err != nil {
		logx.Warn().Err(err).Msg("filename suggestions disabled, no default model")
		return nil
	}
	return postprocess.NewFilenameSuggester(inv.ChatModel, systemPrompt)
}

func runLoop(ctx context.Context, orch *pipeline.Orchestrator, suggester *postprocess.FilenameSuggester, stdin *bufio.Reader) {
	for {
		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			logx.Error().Err(err).Msg("failed to read input")
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		ctrl := contextparse.ParseControl(line)
		switch ctrl.Kind {
		case contextparse.ControlClearSession:
			if err := orch.ClearSession(ctx, ctrl.SessionID); err != nil {
				logx.Error().Err(err).Str("session", ctrl.SessionID).Msg("failed to clear session")
				continue
			}
			fmt.Printf("session %s cleared\n", ctrl.SessionID)

		case contextparse.ControlPaste:
			// Insertion happens in the desktop shell; acknowledge the signal.
			fmt.Printf("[paste] %s\n", ctrl.Text)

		case contextparse.ControlType:
			fmt.Printf("[type] %s\n", ctrl.Text)

		case contextparse.ControlQuery:
			runQuery(ctx, orch, suggester, ctrl)
		}
	}
}

func runQuery(ctx context.Context, orch *pipeline.Orchestrator, suggester *postprocess.FilenameSuggester, ctrl contextparse.Control) {
	result, err := orch.ProcessQuery(ctx, model.QueryInput{
		SessionID: ctrl.SessionID,
		Query:     ctrl.Query,
	}, func(chunk string) {
		fmt.Print(chunk)
	})
	if err != nil {
		fmt.Printf("\n⚠️ Error: %s\n", err)
		return
	}
	fmt.Println("\n<COMPLETE>")

	if result.DetectedLanguage != "" && suggester != nil {
		name := suggester.Suggest(ctx, result.Response, ctrl.Query, result.DetectedLanguage)
		fmt.Printf("suggested filename: %s\n", name)
	}
}

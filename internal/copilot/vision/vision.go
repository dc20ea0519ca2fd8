package vision

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/hoverquill/server/internal/copilot/model"
	"github.com/hoverquill/server/internal/copilot/prompts"
	logx "github.com/hoverquill/server/pkg/logger"
)

// Preprocessor turns an image payload into a textual description for the
// main model. Describe returning "" with a nil error means "no description";
// the pipeline decides what that implies based on Configured.
type Preprocessor interface {
	Describe(ctx context.Context, imageBase64, promptHint string) (string, error)
	Configured() bool
}

// Unconfigured is the no-op preprocessor used when no vision model is set;
// images flow to the main model untouched.
type Unconfigured struct{}

func (Unconfigured) Describe(context.Context, string, string) (string, error) { return "", nil }
func (Unconfigured) Configured() bool                                         { return false }

// GeminiPreprocessor describes images with a dedicated gemini vision model.
type GeminiPreprocessor struct {
	chatModel einomodel.BaseChatModel
	modelName string
}

func NewGeminiPreprocessor(ctx context.Context, client *genai.Client, cfg model.VisionModelConfig) (*GeminiPreprocessor, error) {
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create vision model: %w", err)
	}
	return &GeminiPreprocessor{chatModel: chatModel, modelName: cfg.Model}, nil
}

func (p *GeminiPreprocessor) Configured() bool { return true }

// Describe sends the image plus a hint-derived instruction to the vision
// model. An empty description is not an error; the caller degrades.
func (p *GeminiPreprocessor) Describe(ctx context.Context, imageBase64, promptHint string) (string, error) {
	if imageBase64 == "" {
		return "", nil
	}

	userPrompt := "Describe the provided visual input in comprehensive detail according to the system instructions."
	if hint := strings.TrimSpace(promptHint); hint != "" {
		userPrompt = fmt.Sprintf("Based on this query: '%s', analyze and describe the provided visual input.", hint)
	}

	imageData := model.StripDataPrefix(imageBase64)
	userTurn := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: userPrompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: "data:image/png;base64," + imageData,
				},
			},
		},
	}

	out, err := p.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(prompts.VisionSystem()),
		userTurn,
	})
	if err != nil {
		return "", fmt.Errorf("vision model %s: %w", p.modelName, err)
	}

	description := strings.TrimSpace(out.Content)
	if description == "" {
		logx.Warn().Str("model", p.modelName).Msg("vision model returned an empty description")
	}
	return description, nil
}

var (
	_ Preprocessor = (*GeminiPreprocessor)(nil)
	_ Preprocessor = Unconfigured{}
)

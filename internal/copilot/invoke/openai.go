package invoke

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	logx "github.com/hoverquill/server/pkg/logger"
)

type openAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// openAIChatModel adapts an OpenAI-compatible chat completions endpoint to
// the eino chat model contract, so local proxies and third-party providers
// plug in beside the gemini models.
type openAIChatModel struct {
	client openai.Client
	cfg    openAIConfig
}

func newOpenAIChatModel(cfg openAIConfig) *openAIChatModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIChatModel{client: openai.NewClient(opts...), cfg: cfg}
}

func (m *openAIChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	params, err := m.buildParams(input)
	if err != nil {
		return nil, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion for %s: %w", m.cfg.Model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion for %s returned no choices", m.cfg.Model)
	}

	choice := completion.Choices[0]
	out := schema.AssistantMessage(choice.Message.Content, nil)
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID: call.ID,
			Function: schema.FunctionCall{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return out, nil
}

func (m *openAIChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	params, err := m.buildParams(input)
	if err != nil {
		return nil, err
	}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	sr, sw := schema.Pipe[*schema.Message](8)

	go func() {
		defer sw.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if closed := sw.Send(schema.AssistantMessage(delta, nil), nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			logx.Error().Err(err).Str("model", m.cfg.Model).Msg("chat completion stream failed")
			sw.Send(nil, fmt.Errorf("chat completion stream for %s: %w", m.cfg.Model, err))
		}
	}()

	return sr, nil
}

func (m *openAIChatModel) buildParams(input []*schema.Message) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		converted, err := convertMessage(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, converted)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.cfg.Model),
		Messages: messages,
	}
	if m.cfg.Temperature != 0 {
		params.Temperature = openai.Float(m.cfg.Temperature)
	}
	if m.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(m.cfg.MaxTokens))
	}
	return params, nil
}

func convertMessage(msg *schema.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case schema.System:
		return openai.SystemMessage(msg.Content), nil
	case schema.Assistant:
		return openai.AssistantMessage(msg.Content), nil
	case schema.Tool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID), nil
	case schema.User:
		if len(msg.MultiContent) == 0 {
			return openai.UserMessage(msg.Content), nil
		}
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.MultiContent))
		for _, part := range msg.MultiContent {
			switch part.Type {
			case schema.ChatMessagePartTypeText:
				parts = append(parts, openai.TextContentPart(part.Text))
			case schema.ChatMessagePartTypeImageURL:
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: part.ImageURL.URL,
				}))
			default:
				return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported message part type %q", part.Type)
			}
		}
		return openai.UserMessage(parts), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported message role %q", msg.Role)
	}
}

var _ einomodel.BaseChatModel = (*openAIChatModel)(nil)

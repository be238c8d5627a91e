package llm

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

type openAICompleter struct {
	client     openai.Client
	model      string
	maxRetries int
}

func newOpenAICompleter(apiKey string, baseURL string, model string, maxRetries int) *openAICompleter {
	opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, ooption.WithBaseURL(baseURL))
	}
	return &openAICompleter{
		client:     openai.NewClient(opts...),
		model:      model,
		maxRetries: maxRetries,
	}
}

func (c *openAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range req.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(text))
		default:
			msgs = append(msgs, openai.UserMessage(text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(defaultMaxOutputTokens),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	return completeWithRetry(ctx, c.maxRetries, func(ctx context.Context) (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		out := strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return "", ErrEmptyResponse
		}
		return out, nil
	})
}

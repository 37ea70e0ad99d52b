package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/markdave123-py/Rehearsal/internal/core"
)

// ErrEmptyCompletion is returned when the provider answers without text.
var ErrEmptyCompletion = errors.New("llm returned no content")

type OpenAILLM struct {
	client    openai.Client
	modelName string
}

func NewOpenAILLM(apiKey, baseURL, modelName string) (*OpenAILLM, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is empty")
	}
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	// retries are owned by Resilient
	opts = append(opts, openaiopt.WithMaxRetries(0))

	return &OpenAILLM{client: openai.NewClient(opts...), modelName: modelName}, nil
}

// WithModel returns a generator sharing the client but using another model.
func (o *OpenAILLM) WithModel(modelName string) *OpenAILLM {
	if modelName == "" {
		return o
	}
	return &OpenAILLM{client: o.client, modelName: modelName}
}

func (o *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(userPrompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.modelName),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

var _ core.LLMProvider = (*OpenAILLM)(nil)

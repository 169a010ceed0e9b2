package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIOptions configures an OpenAI-compatible chat completion provider.
// BaseURL may point at any compatible server.
type OpenAIOptions struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float32
	MaxTokens       int
	MaxPromptLength int
}

// OpenAICompleter sends chat completions through go-openai.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAICompleter requires an API key; the model defaults to gpt-4o-mini.
func NewOpenAICompleter(opts OpenAIOptions) (*OpenAICompleter, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
		logrus.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	logrus.Infof("Initializing OpenAI client with model %s", model)
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// NewOpenAI returns an Enricher backed by an OpenAI-compatible API.
func NewOpenAI(opts OpenAIOptions) (*LLM, error) {
	c, err := NewOpenAICompleter(opts)
	if err != nil {
		return nil, err
	}
	return NewLLM("openai", c, opts.MaxPromptLength), nil
}

// Complete sends one chat completion and returns the first choice.
func (o *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
	}
	if o.maxTokens > 0 {
		req.MaxCompletionTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	logrus.Debugf("Received response from OpenAI, finish_reason=%s", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

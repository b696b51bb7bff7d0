package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	openai "github.com/sashabaranov/go-openai"
)

// Completer sends one system+user prompt pair to a language model
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NewCompleter creates the completer for the configured provider
func NewCompleter(cfg *Config) (Completer, error) {
	gen := cfg.Settings.Generation
	switch gen.Provider {
	case ProviderOpenAI:
		return NewOpenAIAgent(cfg.APIKey(), cfg.Env.OpenAIBaseURL, cfg.Model, gen.MaxTokens, gen.Temperature), nil
	case ProviderAnthropic:
		return NewAnthropicAgent(cfg.APIKey(), cfg.Model, gen.MaxTokens, gen.Temperature), nil
	}
	return nil, &ConfigurationError{Err: fmt.Errorf("unknown generation provider %q", gen.Provider)}
}

// OpenAIAgent completes prompts with the OpenAI chat API
type OpenAIAgent struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIAgent(apiKey, baseURL, model string, maxTokens int, temperature float64) *OpenAIAgent {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIAgent{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
	}
}

func (a *OpenAIAgent) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	debugLog("OpenAI request: model=%s max_tokens=%d", a.model, a.maxTokens)
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai API error (HTTP %d): %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	debugLog("OpenAI response: finish_reason=%s total_tokens=%d", resp.Choices[0].FinishReason, resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// AnthropicAgent completes prompts with the Anthropic messages API
type AnthropicAgent struct {
	apiKey   string
	settings types.RequestSettings
}

func NewAnthropicAgent(apiKey, model string, maxTokens int, temperature float64) *AnthropicAgent {
	return &AnthropicAgent{
		apiKey: apiKey,
		settings: types.RequestSettings{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
	}
}

type completion struct {
	text string
	err  error
}

// Complete runs the blocking llmkit call in its own goroutine so the step
// timeout still applies. An abandoned call finishes in the background.
func (a *AnthropicAgent) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	debugLog("Anthropic request: model=%s max_tokens=%d", a.settings.Model, a.settings.MaxTokens)
	done := make(chan completion, 1)
	go func() {
		response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", a.apiKey, a.settings)
		if err != nil {
			done <- completion{err: fmt.Errorf("anthropic request failed: %w", err)}
			return
		}
		if len(response.Content) == 0 {
			done <- completion{err: fmt.Errorf("no content in response")}
			return
		}
		done <- completion{text: response.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		log.Printf("⚠ Anthropic request abandoned: %v", ctx.Err())
		return "", ctx.Err()
	case c := <-done:
		return c.text, c.err
	}
}

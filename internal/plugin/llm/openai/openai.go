// Package openai provides the chat completion provider used by the ingestion
// engine. A semaphore bounds in-flight completions so a burst of ingestions
// cannot exhaust the provider's rate limits.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openmem/openmem/internal/config"
	registryllm "github.com/openmem/openmem/internal/registry/llm"
	goopenai "github.com/sashabaranov/go-openai"
)

func init() {
	registryllm.Register(registryllm.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryllm.Provider, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("openai llm: OPENMEM_LLM_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.LLMAPIKey)
	if base := strings.TrimRight(cfg.LLMBaseURL, "/"); base != "" {
		clientCfg.BaseURL = base
	}
	maxConcurrent := cfg.LLMMaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &OpenAIProvider{
		client:    goopenai.NewClientWithConfig(clientCfg),
		model:     cfg.LLMModelName,
		timeout:   cfg.LLMTimeout,
		semaphore: make(chan struct{}, maxConcurrent),
	}, nil
}

type OpenAIProvider struct {
	client    *goopenai.Client
	model     string
	timeout   time.Duration
	semaphore chan struct{}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, messages []registryllm.Message) (string, error) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	chatMessages := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == registryllm.RoleSystem {
			role = goopenai.ChatMessageRoleSystem
		}
		chatMessages[i] = goopenai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    p.model,
		Messages: chatMessages,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ registryllm.Provider = (*OpenAIProvider)(nil)

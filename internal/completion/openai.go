// Package completion provides the text-completion capabilities used to turn
// a prompt with retrieved context into an answer.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is used when OpenAIConfig.Model is empty.
	DefaultModel = "gpt-4o-mini"
)

// OpenAIConfig configures an OpenAI-compatible chat completion client.
type OpenAIConfig struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	Timeout      time.Duration
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// OpenAICompleter sends each prompt as a single chat completion request.
// It talks to the OpenAI API or to any server exposing the same /v1 surface
// (Ollama, vLLM, LM Studio).
type OpenAICompleter struct {
	api          *goopenai.Client
	model        string
	temperature  float32
	maxTokens    int
	systemPrompt string
}

// NewOpenAICompleter builds a completer from cfg.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		if strings.TrimRight(cfg.BaseURL, "/") == DefaultBaseURL {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
		key = "unused"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	clientCfg := goopenai.DefaultConfig(key)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: t}
	return &OpenAICompleter{
		api:          goopenai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Complete returns the first choice of a single chat completion. There is
// no retry.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var msgs []goopenai.ChatCompletionMessage
	if c.systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: c.systemPrompt})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

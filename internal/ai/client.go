package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Options — параметры генерации. Указатели, чтобы отличать 0/0.0 от отсутствия.
type Options struct {
	Temperature *float32
	MaxTokens   *int
	TopP        *float32
}

// Completer выполняет один вызов генерации на конкретной паре (модель, ключ).
type Completer interface {
	Complete(ctx context.Context, modelName, apiKey, prompt string, opts Options) (string, error)
}

// Client — клиент текстовой генерации через OpenAI-совместимый эндпоинт Gemini.
type Client struct {
	baseURL string
	timeout time.Duration
}

// ClientConfig содержит конфигурацию для клиента нейросети.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient создает новый экземпляр клиента текстовой генерации.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{baseURL: cfg.BaseURL, timeout: cfg.Timeout}
}

// Complete выполняет один запрос chat completion. Ключ приходит на каждый
// вызов отдельно (ротация живет уровнем выше), поэтому клиент API
// конструируется на попытку.
func (c *Client) Complete(ctx context.Context, modelName, apiKey, prompt string, opts Options) (string, error) {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = c.baseURL
	client := openai.NewClientWithConfig(config)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed (model %s): %w", modelName, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("empty response from API: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// IsQuotaError сообщает, относится ли ошибка к классу quota/rate-limit —
// единственному классу, при котором имеет смысл ротация ключей. Остальные
// ошибки (невалидный запрос, сетевой сбой) должны падать сразу.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota")
}

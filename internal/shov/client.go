package shov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"narrato-server/internal/interfaces"

	"go.uber.org/zap"
)

// ErrRequestFailed — транспортный сбой после исчерпания ретраев.
var ErrRequestFailed = errors.New("shov request failed")

// Client — клиент документного API shov.com. Каждая операция ретраится
// ограниченно (maxRetries с фиксированной задержкой), прежде чем ошибка
// будет поднята вызывающему.
type Client struct {
	baseURL    string
	project    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Config содержит конфигурацию клиента shov.
type Config struct {
	BaseURL    string
	Project    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient создает новый экземпляр клиента shov.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("shov API key is not configured")
	}
	if cfg.Project == "" {
		return nil, errors.New("shov project name is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://shov.com/api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		project:    cfg.Project,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.Named("ShovClient"),
	}, nil
}

// apiResponse — общий конверт ответов shov API.
type apiResponse struct {
	Success bool              `json:"success"`
	ID      string            `json:"id,omitempty"`
	Items   []interfaces.Item `json:"items,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details string            `json:"details,omitempty"`
}

// Add добавляет JSON-документ в коллекцию и возвращает присвоенный id.
func (c *Client) Add(ctx context.Context, collection string, value any) (string, error) {
	payload := map[string]any{"name": collection, "value": value}
	resp, err := c.post(ctx, "/add/"+c.project, payload)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("shov add to %q rejected: %s (%s)", collection, resp.Error, resp.Details)
	}
	return resp.ID, nil
}

// Update перезаписывает документ коллекции по id.
func (c *Client) Update(ctx context.Context, collection, id string, value any) error {
	payload := map[string]any{"collection": collection, "value": value}
	resp, err := c.post(ctx, fmt.Sprintf("/update/%s/%s", c.project, id), payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("shov update %s/%s rejected: %s (%s)", collection, id, resp.Error, resp.Details)
	}
	return nil
}

// Where возвращает элементы коллекции с полями, равными значениям фильтра.
func (c *Client) Where(ctx context.Context, collection string, filter map[string]any) ([]interfaces.Item, error) {
	payload := map[string]any{"name": collection}
	if len(filter) > 0 {
		payload["filter"] = filter
	}
	resp, err := c.post(ctx, "/where/"+c.project, payload)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("shov where on %q rejected: %s (%s)", collection, resp.Error, resp.Details)
	}
	return resp.Items, nil
}

// Remove удаляет документ коллекции по id.
func (c *Client) Remove(ctx context.Context, collection, id string) error {
	payload := map[string]any{"collection": collection}
	resp, err := c.post(ctx, fmt.Sprintf("/remove/%s/%s", c.project, id), payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("shov remove %s/%s rejected: %s (%s)", collection, id, resp.Error, resp.Details)
	}
	return nil
}

// SendOTP отправляет одноразовый код на email пользователя.
func (c *Client) SendOTP(ctx context.Context, email string) error {
	resp, err := c.post(ctx, "/send-otp/"+c.project, map[string]any{"identifier": email})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("shov send-otp rejected: %s (%s)", resp.Error, resp.Details)
	}
	return nil
}

// VerifyOTP проверяет введенный пользователем код.
func (c *Client) VerifyOTP(ctx context.Context, email, pin string) (bool, error) {
	resp, err := c.post(ctx, "/verify-otp/"+c.project, map[string]any{"identifier": email, "pin": pin})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// post выполняет POST с ретраями на транспортные сбои и 5xx ответы.
func (c *Client) post(ctx context.Context, path string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shov request payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, err := c.doOnce(ctx, path, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("Shov request attempt failed",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxRetries),
			zap.Error(err),
		)
		if attempt < c.maxRetries {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrRequestFailed, path, c.maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, readErr := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("API returned status %d: %s", httpResp.StatusCode, truncate(respBody, 500))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	var resp apiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("response is not valid JSON (status %d): %w", httpResp.StatusCode, err)
	}
	return &resp, nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max])
}

// Compile-time check: Client реализует интерфейс хранилища.
var _ interfaces.DocumentStore = (*Client)(nil)

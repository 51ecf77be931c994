package media

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
	"narrato-server/internal/keypool"

	"go.uber.org/zap"
)

// ErrImageGeneration — все ключи инференс-сервера исчерпаны или запрос отклонен.
var ErrImageGeneration = errors.New("image generation failed")

// ImageClient генерирует иллюстрацию по текстовому промпту через HTTP API
// инференс-сервера диффузионной модели и загружает результат в объектное
// хранилище. Ключи доступа ротируются через пул; на квотных отказах клиент
// делает несколько полных кругов по пулу.
type ImageClient struct {
	baseURL    string
	model      string
	width      int
	height     int
	steps      int
	maxCycles  int
	pool       *keypool.Pool
	uploader   interfaces.Uploader
	httpClient *http.Client
	logger     *zap.Logger
}

// ImageConfig содержит конфигурацию клиента генерации изображений.
type ImageConfig struct {
	BaseURL   string
	Model     string
	Width     int
	Height    int
	Steps     int
	MaxCycles int
	Timeout   time.Duration
}

// NewImageClient создает новый экземпляр клиента генерации изображений.
func NewImageClient(cfg ImageConfig, pool *keypool.Pool, uploader interfaces.Uploader, logger *zap.Logger) (*ImageClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("image inference base URL is not configured")
	}
	if pool == nil {
		return nil, errors.New("image key pool is required")
	}
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if cfg.Model == "" {
		cfg.Model = "stabilityai/stable-diffusion-xl-base-1.0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 1024
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 28
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ImageClient{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		width:      cfg.Width,
		height:     cfg.Height,
		steps:      cfg.Steps,
		maxCycles:  cfg.MaxCycles,
		pool:       pool,
		uploader:   uploader,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("ImageClient"),
	}, nil
}

type imageRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters imageParameters `json:"parameters"`
}

type imageParameters struct {
	Width             int `json:"width"`
	Height            int `json:"height"`
	NumInferenceSteps int `json:"num_inference_steps"`
}

// Generate выполняет генерацию и возвращает публичный URL изображения.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(imageRequest{
		Inputs: prompt,
		Parameters: imageParameters{
			Width:             c.width,
			Height:            c.height,
			NumInferenceSteps: c.steps,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal image request: %w", err)
	}

	totalAttempts := c.pool.Size() * c.maxCycles
	var lastErr error
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		token := c.pool.Next()
		imageBytes, retryable, err := c.callInference(ctx, payload, token)
		if err == nil {
			url, uploadErr := c.uploader.Upload(ctx, imageBytes, ResourceImage)
			if uploadErr != nil {
				return "", uploadErr
			}
			return url, nil
		}

		lastErr = err
		if !retryable {
			return "", fmt.Errorf("%w: %v", ErrImageGeneration, err)
		}
		c.logger.Warn("Inference attempt failed, rotating token",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", totalAttempts),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("%w: all tokens exhausted: %v", ErrImageGeneration, lastErr)
}

// callInference выполняет один запрос к инференс-серверу. Второе возвращаемое
// значение сообщает, имеет ли смысл повторять с другим токеном.
func (c *ImageClient) callInference(ctx context.Context, payload []byte, token string) ([]byte, bool, error) {
	endpointURL := fmt.Sprintf("%s/models/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(body) == 0 {
			return nil, true, errors.New("inference server returned empty body")
		}
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode >= http.StatusInternalServerError:
		// Квота, протухший токен или перегрузка — пробуем следующий токен
		return nil, true, fmt.Errorf("inference server returned status %d: %s", resp.StatusCode, truncateBody(body, 300))
	default:
		return nil, false, fmt.Errorf("inference server rejected request with status %d: %s", resp.StatusCode, truncateBody(body, 300))
	}
}

func truncateBody(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max])
}

var _ interfaces.ImageGenerator = (*ImageClient)(nil)

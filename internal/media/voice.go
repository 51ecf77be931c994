package media

import (
	"bytes"
	"context"
	"encoding/base64"
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

// ErrVoiceSynthesis — все ключи TTS исчерпаны или сервис отклонил запрос.
var ErrVoiceSynthesis = errors.New("voice synthesis failed")

// VoiceClient синтезирует озвучку через Speechify REST API и загружает
// полученный mp3 в объектное хранилище. API-ключи ротируются через пул.
type VoiceClient struct {
	baseURL    string
	voiceID    string
	maxCycles  int
	pool       *keypool.Pool
	uploader   interfaces.Uploader
	httpClient *http.Client
	logger     *zap.Logger
}

// VoiceConfig содержит конфигурацию TTS-клиента.
type VoiceConfig struct {
	BaseURL   string
	VoiceID   string
	MaxCycles int
	Timeout   time.Duration
}

// NewVoiceClient создает новый экземпляр TTS-клиента.
func NewVoiceClient(cfg VoiceConfig, pool *keypool.Pool, uploader interfaces.Uploader, logger *zap.Logger) (*VoiceClient, error) {
	if pool == nil {
		return nil, errors.New("voice key pool is required")
	}
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sws.speechify.com"
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = "oliver"
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &VoiceClient{
		baseURL:    cfg.BaseURL,
		voiceID:    cfg.VoiceID,
		maxCycles:  cfg.MaxCycles,
		pool:       pool,
		uploader:   uploader,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("VoiceClient"),
	}, nil
}

type speechRequest struct {
	Input       string `json:"input"`
	VoiceID     string `json:"voice_id"`
	AudioFormat string `json:"audio_format"`
}

type speechResponse struct {
	AudioData string `json:"audio_data"`
}

// Synthesize озвучивает текст и возвращает публичный URL mp3-файла.
// Текст оборачивается в SSML с эмоциональной окраской рассказчика.
func (c *VoiceClient) Synthesize(ctx context.Context, text string) (string, error) {
	ssml := fmt.Sprintf(`<speak><speechify:style emotion="assertive">%s</speechify:style></speak>`, text)
	payload, err := json.Marshal(speechRequest{
		Input:       ssml,
		VoiceID:     c.voiceID,
		AudioFormat: "mp3",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal speech request: %w", err)
	}

	totalAttempts := c.pool.Size() * c.maxCycles
	var lastErr error
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		apiKey := c.pool.Next()
		audio, retryable, err := c.callSpeech(ctx, payload, apiKey)
		if err == nil {
			// Cloudinary принимает аудио только как video-ресурс
			url, uploadErr := c.uploader.Upload(ctx, audio, ResourceVideo)
			if uploadErr != nil {
				return "", uploadErr
			}
			return url, nil
		}

		lastErr = err
		if !retryable {
			return "", fmt.Errorf("%w: %v", ErrVoiceSynthesis, err)
		}
		c.logger.Warn("Speech synthesis attempt failed, rotating key",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", totalAttempts),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("%w: all keys exhausted: %v", ErrVoiceSynthesis, lastErr)
}

func (c *VoiceClient) callSpeech(ctx context.Context, payload []byte, apiKey string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

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
		var speech speechResponse
		if err := json.Unmarshal(body, &speech); err != nil {
			return nil, false, fmt.Errorf("response is not valid JSON: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(speech.AudioData)
		if err != nil {
			return nil, false, fmt.Errorf("audio_data is not valid base64: %w", err)
		}
		if len(audio) == 0 {
			return nil, false, errors.New("TTS returned empty audio")
		}
		return audio, false, nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("TTS returned status %d: %s", resp.StatusCode, truncateBody(body, 300))
	default:
		return nil, false, fmt.Errorf("TTS rejected request with status %d: %s", resp.StatusCode, truncateBody(body, 300))
	}
}

var _ interfaces.VoiceGenerator = (*VoiceClient)(nil)

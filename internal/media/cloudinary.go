package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUploadFailed - ошибка при загрузке файла в объектное хранилище.
var ErrUploadFailed = errors.New("object storage upload failed")

// Типы ресурсов Cloudinary. Аудио грузится как video — так устроен их API.
const (
	ResourceImage = "image"
	ResourceVideo = "video"
)

// CloudinaryUploader загружает байты в Cloudinary подписанным запросом
// и возвращает публичный https URL.
type CloudinaryUploader struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	folder     string
	httpClient *http.Client
	logger     *zap.Logger
}

// CloudinaryConfig содержит конфигурацию загрузчика.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	Timeout   time.Duration
}

// NewCloudinaryUploader создает новый экземпляр загрузчика.
func NewCloudinaryUploader(cfg CloudinaryConfig, logger *zap.Logger) (*CloudinaryUploader, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials are not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CloudinaryUploader{
		cloudName:  cfg.CloudName,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		folder:     cfg.Folder,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("CloudinaryUploader"),
	}, nil
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload загружает данные как ресурс указанного типа и возвращает secure_url.
func (u *CloudinaryUploader) Upload(ctx context.Context, data []byte, resourceType string) (string, error) {
	if resourceType == "" {
		resourceType = ResourceImage
	}

	publicID := uuid.NewString()
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	// Подпись: отсортированные параметры + секрет, SHA-1 hex
	signedParams := fmt.Sprintf("folder=%s&public_id=%s&timestamp=%s%s", u.folder, publicID, timestamp, u.apiSecret)
	if u.folder == "" {
		signedParams = fmt.Sprintf("public_id=%s&timestamp=%s%s", publicID, timestamp, u.apiSecret)
	}
	signature := fmt.Sprintf("%x", sha1.Sum([]byte(signedParams)))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"api_key":   u.apiKey,
		"timestamp": timestamp,
		"public_id": publicID,
		"signature": signature,
	}
	if u.folder != "" {
		fields["folder"] = u.folder
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
	}
	filePart, err := writer.CreateFormFile("file", publicID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if _, err := filePart.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	endpointURL := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/%s/upload", u.cloudName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrUploadFailed, readErr)
	}

	var uploadResp uploadResponse
	if err := json.Unmarshal(respBody, &uploadResp); err != nil {
		return "", fmt.Errorf("%w: invalid response (status %d)", ErrUploadFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || uploadResp.SecureURL == "" {
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, uploadResp.Error.Message)
	}

	u.logger.Info("Uploaded to object storage",
		zap.String("resource_type", resourceType),
		zap.String("url", uploadResp.SecureURL),
		zap.Int("size_bytes", len(data)),
	)
	return uploadResp.SecureURL, nil
}

package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"narrato-server/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Config — конфигурация сервиса. Секреты грузятся из окружения как и
// все остальное (heroku-style деплой), но в логи попадают замаскированными.
type Config struct {
	Env         string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"debug"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	ServerPort  string `envconfig:"SERVER_PORT" default:"8080"`

	// Генерация текста (OpenAI-совместимый эндпоинт Gemini)
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai"`
	// Тиры моделей в порядке фолбэка, через запятую. Дубли намеренны:
	// каждый тир — отдельный круг по всем ключам.
	GeminiModels  string        `envconfig:"GEMINI_MODELS" default:"gemini-2.5-flash-lite,gemini-2.5-flash-lite,gemini-2.5-flash,gemini-2.5-flash"`
	GeminiTimeout time.Duration `envconfig:"GEMINI_TIMEOUT" default:"120s"`
	MinParagraphs int           `envconfig:"MIN_PARAGRAPHS" default:"15"`
	MaxParagraphs int           `envconfig:"MAX_PARAGRAPHS" default:"20"`

	// Параллелизм фан-аута и SSE
	ConcurrencyLimit  int           `envconfig:"CONCURRENCY_LIMIT" default:"4"`
	KeepAliveInterval time.Duration `envconfig:"KEEP_ALIVE_INTERVAL" default:"15s"`
	AudioPause        time.Duration `envconfig:"AUDIO_PAUSE" default:"1s"`

	// Документное хранилище shov.com
	ShovBaseURL string `envconfig:"SHOV_BASE_URL" default:"https://shov.com/api"`
	ShovProject string `envconfig:"SHOV_PROJECT" required:"true"`
	ShovAPIKey  string `envconfig:"SHOV_API_KEY" required:"true"`

	// Cloudinary
	CloudinaryCloudName string `envconfig:"CLOUDINARY_CLOUD_NAME" required:"true"`
	CloudinaryAPIKey    string `envconfig:"CLOUDINARY_API_KEY" required:"true"`
	CloudinaryAPISecret string `envconfig:"CLOUDINARY_API_SECRET" required:"true"`
	CloudinaryFolder    string `envconfig:"CLOUDINARY_FOLDER" default:"storybook"`

	// Инференс изображений
	ImageInferenceURL string `envconfig:"IMAGE_INFERENCE_URL" default:"https://api-inference.huggingface.co"`
	ImageModel        string `envconfig:"IMAGE_MODEL" default:"stabilityai/stable-diffusion-3.5-large-turbo"`

	// Озвучка
	SpeechifyBaseURL string `envconfig:"SPEECHIFY_BASE_URL" default:"https://api.sws.speechify.com"`
	SpeechifyVoice   string `envconfig:"SPEECHIFY_VOICE" default:"oliver"`

	// Redis (сессии)
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	// Аутентификация
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// Секрет внешнего планировщика воркера
	WorkerSecret string `envconfig:"WORKER_SECRET" required:"true"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// GetModelTiers разбивает список тиров моделей по запятой.
func (c *Config) GetModelTiers() []string {
	var tiers []string
	for _, tier := range strings.Split(c.GeminiModels, ",") {
		if trimmed := strings.TrimSpace(tier); trimmed != "" {
			tiers = append(tiers, trimmed)
		}
	}
	return tiers
}

// GetAllowedOrigins разбивает список CORS origin-ов по запятой.
func (c *Config) GetAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(c.CORSAllowedOrigins, " ", ""), ",")
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения.
func Load(envFilePath string) (*Config, error) {
	if _, err := os.Stat(envFilePath); err == nil {
		if err := godotenv.Load(envFilePath); err != nil {
			log.Printf("Warning: Could not load %s file: %v", envFilePath, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env vars: %w", err)
	}
	if cfg.MinParagraphs <= 0 || cfg.MaxParagraphs < cfg.MinParagraphs {
		return nil, fmt.Errorf("invalid paragraph bounds: min=%d max=%d", cfg.MinParagraphs, cfg.MaxParagraphs)
	}
	if len(cfg.GetModelTiers()) == 0 {
		return nil, fmt.Errorf("GEMINI_MODELS must name at least one model tier")
	}
	return &cfg, nil
}

// LogSummary пишет загруженную конфигурацию в лог с маскировкой секретов.
func (c *Config) LogSummary(zl *zap.Logger) {
	zl.Info("Configuration loaded",
		zap.String("env", c.Env),
		zap.String("server_port", c.ServerPort),
		zap.String("gemini_base_url", c.GeminiBaseURL),
		zap.Strings("model_tiers", c.GetModelTiers()),
		zap.Int("min_paragraphs", c.MinParagraphs),
		zap.Int("max_paragraphs", c.MaxParagraphs),
		zap.Int("concurrency_limit", c.ConcurrencyLimit),
		zap.Duration("keep_alive_interval", c.KeepAliveInterval),
		zap.String("shov_project", c.ShovProject),
		logger.MaskedString("shov_api_key", c.ShovAPIKey),
		zap.String("cloudinary_cloud_name", c.CloudinaryCloudName),
		logger.MaskedString("cloudinary_api_secret", c.CloudinaryAPISecret),
		zap.String("image_model", c.ImageModel),
		zap.String("speechify_voice", c.SpeechifyVoice),
		zap.String("redis_addr", c.RedisAddr),
		logger.MaskedString("jwt_secret", c.JWTSecret),
		logger.MaskedString("worker_secret", c.WorkerSecret),
	)
}

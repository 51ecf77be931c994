package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"narrato-server/internal/ai"
	"narrato-server/internal/auth"
	"narrato-server/internal/config"
	deliveryhttp "narrato-server/internal/delivery/http"
	"narrato-server/internal/keypool"
	"narrato-server/internal/media"
	"narrato-server/internal/pipeline"
	"narrato-server/internal/shov"
	"narrato-server/internal/story"
	"narrato-server/internal/stream"
	"narrato-server/internal/worker"
	"narrato-server/pkg/logger"

	rateli "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "narrato-server",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))
	cfg.LogSummary(log)

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient, err := setupRedis(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis")

	// --- Key Pools ---
	textKeys, err := keypool.FromEnv("GOOGLE_API_KEY")
	if err != nil {
		zap.L().Fatal("Failed to build text generation key pool", zap.Error(err))
	}
	imageKeys, err := keypool.FromEnv("HUGGING_FACE_TOKEN")
	if err != nil {
		zap.L().Fatal("Failed to build image generation key pool", zap.Error(err))
	}
	voiceKeys, err := keypool.FromEnv("SPEECHIFY_KEY")
	if err != nil {
		zap.L().Fatal("Failed to build voice synthesis key pool", zap.Error(err))
	}
	zap.L().Info("Key pools ready",
		zap.Int("text_keys", textKeys.Size()),
		zap.Int("image_keys", imageKeys.Size()),
		zap.Int("voice_keys", voiceKeys.Size()),
	)

	// --- Dependency Injection ---
	store, err := shov.NewClient(shov.Config{
		BaseURL: cfg.ShovBaseURL,
		Project: cfg.ShovProject,
		APIKey:  cfg.ShovAPIKey,
	}, log.Named("ShovClient"))
	if err != nil {
		zap.L().Fatal("Failed to create document store client", zap.Error(err))
	}

	textClient := ai.NewClient(ai.ClientConfig{
		BaseURL: cfg.GeminiBaseURL,
		Timeout: cfg.GeminiTimeout,
	})
	textGen, err := ai.NewFallbackGenerator(textClient, textKeys, cfg.GetModelTiers(), ai.Options{}, log.Named("FallbackGenerator"))
	if err != nil {
		zap.L().Fatal("Failed to create text generator", zap.Error(err))
	}

	uploader, err := media.NewCloudinaryUploader(media.CloudinaryConfig{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	}, log)
	if err != nil {
		zap.L().Fatal("Failed to create media uploader", zap.Error(err))
	}

	imageGen, err := media.NewImageClient(media.ImageConfig{
		BaseURL: cfg.ImageInferenceURL,
		Model:   cfg.ImageModel,
	}, imageKeys, uploader, log)
	if err != nil {
		zap.L().Fatal("Failed to create image client", zap.Error(err))
	}

	voiceGen, err := media.NewVoiceClient(media.VoiceConfig{
		BaseURL: cfg.SpeechifyBaseURL,
		VoiceID: cfg.SpeechifyVoice,
	}, voiceKeys, uploader, log)
	if err != nil {
		zap.L().Fatal("Failed to create voice client", zap.Error(err))
	}

	stages, err := pipeline.NewService(textGen, imageGen, voiceGen, log)
	if err != nil {
		zap.L().Fatal("Failed to create pipeline service", zap.Error(err))
	}

	taskWorker, err := worker.New(worker.Config{
		Concurrency: cfg.ConcurrencyLimit,
	}, store, stages, log)
	if err != nil {
		zap.L().Fatal("Failed to create task worker", zap.Error(err))
	}

	streamer, err := stream.NewGenerator(stream.Config{
		Concurrency:       cfg.ConcurrencyLimit,
		KeepAliveInterval: cfg.KeepAliveInterval,
		AudioPause:        cfg.AudioPause,
	}, store, stages, log)
	if err != nil {
		zap.L().Fatal("Failed to create stream generator", zap.Error(err))
	}

	sessions := auth.NewRedisSessionRepository(redisClient, log.Named("RedisSessionRepo"))
	authSvc, err := auth.NewService(auth.ServiceConfig{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
	}, store, sessions, log)
	if err != nil {
		zap.L().Fatal("Failed to create auth service", zap.Error(err))
	}

	storySvc, err := story.NewService(store, log)
	if err != nil {
		zap.L().Fatal("Failed to create story service", zap.Error(err))
	}

	handler, err := deliveryhttp.NewHandler(deliveryhttp.HandlerConfig{
		WorkerSecret:  cfg.WorkerSecret,
		MinParagraphs: cfg.MinParagraphs,
		MaxParagraphs: cfg.MaxParagraphs,
	}, store, taskWorker, streamer, authSvc, storySvc, log)
	if err != nil {
		zap.L().Fatal("Failed to create HTTP handler", zap.Error(err))
	}

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	// Rate limit на OTP-эндпоинты: 10 запросов в минуту с одного IP
	rateLimitStore := rateli.RedisStore(&rateli.RedisOptions{
		RedisClient: redisClient,
		Rate:        time.Minute,
		Limit:       10,
	})
	rateLimitMiddleware := rateli.RateLimiter(rateLimitStore, &rateli.Options{
		ErrorHandler: func(c *gin.Context, info rateli.Info) {
			zap.L().Warn("Rate limit exceeded",
				zap.String("clientIP", c.ClientIP()),
				zap.Time("resetTime", info.ResetTime),
				zap.String("path", c.Request.URL.Path),
			)
			c.String(http.StatusTooManyRequests, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})

	router := deliveryhttp.NewRouter(handler, cfg.GetAllowedOrigins(), rateLimitMiddleware)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
		// WriteTimeout не ставим: SSE-поток генерации живет минутами
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.ServerPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exited")
}

func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

package ai

import (
	"context"
	"errors"
	"fmt"

	"narrato-server/internal/keypool"

	"go.uber.org/zap"
)

// FallbackGenerator оборачивает одну логическую операцию генерации фолбэком
// по приоритезированному списку тиров моделей и ротацией всех ключей пула.
// Исчерпание квоты на паре (модель, ключ) прозрачно переводит на следующую
// пару; прочие ошибки прерывают всю последовательность немедленно.
type FallbackGenerator struct {
	completer Completer
	pool      *keypool.Pool
	models    []string
	opts      Options
	logger    *zap.Logger
}

// NewFallbackGenerator создает новый экземпляр FallbackGenerator.
func NewFallbackGenerator(completer Completer, pool *keypool.Pool, models []string, opts Options, logger *zap.Logger) (*FallbackGenerator, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if pool == nil {
		return nil, errors.New("key pool is required")
	}
	if len(models) == 0 {
		return nil, errors.New("at least one model tier is required")
	}
	return &FallbackGenerator{
		completer: completer,
		pool:      pool,
		models:    models,
		opts:      opts,
		logger:    logger.Named("FallbackGenerator"),
	}, nil
}

// Generate выполняет генерацию с фолбэком. Первый ключ последовательности
// берется через LeastUsed (размазывание начальной нагрузки), остальные —
// через Next. Возвращает сырой текст ответа; при полном исчерпании всех
// комбинаций (тир x ключ) — последнюю наблюдавшуюся ошибку.
func (g *FallbackGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	firstAttempt := true

	for _, modelName := range g.models {
		numKeys := g.pool.Size()
		for i := 0; i < numKeys; i++ {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			var apiKey string
			if firstAttempt {
				apiKey = g.pool.LeastUsed()
				firstAttempt = false
			} else {
				apiKey = g.pool.Next()
			}

			g.logger.Debug("Attempting generation",
				zap.String("model", modelName),
				zap.String("key_suffix", keySuffix(apiKey)),
			)

			response, err := g.completer.Complete(ctx, modelName, apiKey, prompt, g.opts)
			if err == nil {
				g.logger.Debug("Generation succeeded", zap.String("model", modelName))
				return response, nil
			}

			lastErr = err
			if !IsQuotaError(err) {
				// Ротация ключей не лечит невалидный запрос или сетевой сбой
				g.logger.Error("Non-quota error, aborting fallback sequence",
					zap.String("model", modelName),
					zap.String("key_suffix", keySuffix(apiKey)),
					zap.Error(err),
				)
				return "", fmt.Errorf("generation failed (model %s): %w", modelName, err)
			}

			g.logger.Warn("Key exhausted, rotating to next key",
				zap.String("model", modelName),
				zap.String("key_suffix", keySuffix(apiKey)),
			)
		}
		g.logger.Warn("All keys exhausted for model tier", zap.String("model", modelName))
	}

	if lastErr != nil {
		return "", fmt.Errorf("all model tiers and keys exhausted: %w", lastErr)
	}
	return "", errors.New("failed to generate content with all available models and keys")
}

// keySuffix возвращает хвост ключа для логов, не раскрывая сам ключ.
func keySuffix(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}

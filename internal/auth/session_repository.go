package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"narrato-server/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SessionRepository хранит активные сессии: отозванный или протухший
// идентификатор делает JWT недействительным даже до истечения exp.
type SessionRepository interface {
	// SaveSession связывает идентификатор сессии с email на время ttl.
	SaveSession(ctx context.Context, sessionID, email string, ttl time.Duration) error
	// EmailBySession возвращает email сессии или model.ErrTokenRevoked.
	EmailBySession(ctx context.Context, sessionID string) (string, error)
	// DeleteSession отзывает одну сессию.
	DeleteSession(ctx context.Context, sessionID string) error
	// DeleteSessionsByEmail отзывает все сессии пользователя.
	DeleteSessionsByEmail(ctx context.Context, email string) (int64, error)
}

// Compile-time check
var _ SessionRepository = (*redisSessionRepository)(nil)

type redisSessionRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionRepository создает Redis-репозиторий сессий.
// Для каждой сессии хранятся две записи:
// 1. session_uuid:{SessionID} -> Email (с TTL сессии)
// 2. user_sessions:{Email} -> множество идентификаторов сессий
func NewRedisSessionRepository(client *redis.Client, logger *zap.Logger) SessionRepository {
	return &redisSessionRepository{
		client: client,
		logger: logger.Named("RedisSessionRepo"),
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session_uuid:%s", sessionID)
}

func userSetKey(email string) string {
	return fmt.Sprintf("user_sessions:%s", email)
}

func (r *redisSessionRepository) SaveSession(ctx context.Context, sessionID, email string, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, sessionKey(sessionID), email, ttl)
	pipe.SAdd(ctx, userSetKey(email), sessionID)
	pipe.Expire(ctx, userSetKey(email), ttl)

	r.logger.Debug("Saving session in Redis",
		zap.String("sessionID", sessionID),
		zap.String("email", email),
		zap.Duration("ttl", ttl),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to save session in redis", zap.Error(err), zap.String("email", email))
		return fmt.Errorf("failed to save session in redis: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) EmailBySession(ctx context.Context, sessionID string) (string, error) {
	email, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Session not found in Redis", zap.String("sessionID", sessionID))
			return "", model.ErrTokenRevoked
		}
		r.logger.Error("Failed to get session from redis", zap.Error(err), zap.String("sessionID", sessionID))
		return "", fmt.Errorf("failed to get session from redis: %w", err)
	}
	return email, nil
}

func (r *redisSessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	email, err := r.EmailBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrTokenRevoked) {
			// Сессии уже нет — цель достигнута
			return nil
		}
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, userSetKey(email), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to delete session from redis", zap.Error(err), zap.String("sessionID", sessionID))
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (r *redisSessionRepository) DeleteSessionsByEmail(ctx context.Context, email string) (int64, error) {
	log := r.logger.With(zap.String("email", email))

	sessionIDs, err := r.client.SMembers(ctx, userSetKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		log.Error("Failed to get session identifiers from user set", zap.Error(err))
		return 0, fmt.Errorf("failed to retrieve sessions for %s: %w", email, err)
	}
	if len(sessionIDs) == 0 {
		r.client.Del(ctx, userSetKey(email))
		return 0, nil
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys, sessionKey(id))
	}

	pipe := r.client.Pipeline()
	delCmd := pipe.Del(ctx, keys...)
	pipe.Del(ctx, userSetKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("Failed to execute pipeline for deleting sessions", zap.Error(err))
		return 0, fmt.Errorf("failed to delete sessions for %s: %w", email, err)
	}

	deleted, _ := delCmd.Result()
	log.Info("Deleted sessions for user", zap.Int64("deleted", deleted))
	return deleted, nil
}

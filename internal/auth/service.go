package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"narrato-server/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OTPProvider отправляет и проверяет одноразовые коды. Реализуется
// shov-клиентом (send-otp / verify-otp).
type OTPProvider interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, pin string) (bool, error)
}

// Service — беспарольная аутентификация: одноразовый код на email,
// в обмен на верный код — JWT с трекаемой в Redis сессией.
type Service struct {
	otp       OTPProvider
	sessions  SessionRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *zap.Logger
}

// ServiceConfig содержит настройки сервиса аутентификации.
type ServiceConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// NewService создает новый экземпляр сервиса аутентификации.
func NewService(cfg ServiceConfig, otp OTPProvider, sessions SessionRepository, logger *zap.Logger) (*Service, error) {
	if otp == nil {
		return nil, errors.New("otp provider is required")
	}
	if sessions == nil {
		return nil, errors.New("session repository is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{
		otp:       otp,
		sessions:  sessions,
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
		logger:    logger.Named("AuthService"),
	}, nil
}

// SendCode отправляет одноразовый код на указанный email.
func (s *Service) SendCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", model.ErrInvalidInput)
	}
	if err := s.otp.SendOTP(ctx, email); err != nil {
		return fmt.Errorf("failed to send one-time code: %w", err)
	}
	s.logger.Info("One-time code sent", zap.String("email", email))
	return nil
}

// VerifyCode проверяет код и при успехе выпускает JWT. Идентификатор
// сессии из claims регистрируется в Redis: без него токен мертв.
func (s *Service) VerifyCode(ctx context.Context, email, pin string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || pin == "" {
		return "", fmt.Errorf("%w: email and code are required", model.ErrInvalidInput)
	}

	ok, err := s.otp.VerifyOTP(ctx, email, pin)
	if err != nil {
		return "", fmt.Errorf("failed to verify one-time code: %w", err)
	}
	if !ok {
		s.logger.Warn("One-time code rejected", zap.String("email", email))
		return "", model.ErrUnauthorized
	}

	sessionID := uuid.NewString()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	if err := s.sessions.SaveSession(ctx, sessionID, email, s.tokenTTL); err != nil {
		return "", err
	}
	s.logger.Info("User authenticated", zap.String("email", email), zap.String("sessionID", sessionID))
	return signed, nil
}

// Verify валидирует JWT и живость его сессии; возвращает email владельца.
func (s *Service) Verify(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.parseClaims(tokenString)
	if err != nil {
		return "", err
	}

	email, err := s.sessions.EmailBySession(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if email != claims.Subject {
		s.logger.Warn("Session email mismatch",
			zap.String("sessionID", claims.ID),
			zap.String("claimed", claims.Subject),
		)
		return "", model.ErrTokenInvalid
	}
	return email, nil
}

// Logout отзывает сессию токена.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parseClaims(tokenString)
	if err != nil {
		return err
	}
	return s.sessions.DeleteSession(ctx, claims.ID)
}

func (s *Service) parseClaims(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, model.ErrTokenInvalid
	}
	if !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, model.ErrTokenInvalid
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package story

import (
	"context"
	"errors"
	"fmt"

	"narrato-server/internal/interfaces"
	"narrato-server/internal/model"

	"go.uber.org/zap"
)

// ListItem — история вместе с ее id в хранилище (нужен для удаления).
type ListItem struct {
	ID    string               `json:"id"`
	Story *model.StoryDocument `json:"story"`
}

// Service — чтение и удаление готовых историй из архивной коллекции.
type Service struct {
	store  interfaces.DocumentStore
	logger *zap.Logger
}

// NewService создает новый экземпляр сервиса историй.
func NewService(store interfaces.DocumentStore, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	return &Service{store: store, logger: logger.Named("StoryService")}, nil
}

// PublicStories возвращает все публичные истории.
func (s *Service) PublicStories(ctx context.Context) ([]ListItem, error) {
	return s.list(ctx, map[string]any{"public": true})
}

// StoriesByEmail возвращает истории одного пользователя.
func (s *Service) StoriesByEmail(ctx context.Context, email string) ([]ListItem, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", model.ErrInvalidInput)
	}
	return s.list(ctx, map[string]any{"email": email})
}

// ByUUID возвращает историю по ее публичному идентификатору.
func (s *Service) ByUUID(ctx context.Context, storyUUID string) (*model.StoryDocument, error) {
	items, err := s.list(ctx, map[string]any{"story_uuid": storyUUID})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, model.ErrNotFound
	}
	return items[0].Story, nil
}

// Delete удаляет историю пользователя. Чужая история — ErrForbidden,
// даже если id угадан верно.
func (s *Service) Delete(ctx context.Context, email, storyID string) error {
	if storyID == "" {
		return fmt.Errorf("%w: story id is required", model.ErrInvalidInput)
	}

	owned, err := s.StoriesByEmail(ctx, email)
	if err != nil {
		return err
	}
	for _, item := range owned {
		if item.ID == storyID {
			if err := s.store.Remove(ctx, model.CollectionStories, storyID); err != nil {
				return fmt.Errorf("failed to delete story %s: %w", storyID, err)
			}
			s.logger.Info("Story deleted", zap.String("story_id", storyID), zap.String("email", email))
			return nil
		}
	}
	return model.ErrForbidden
}

func (s *Service) list(ctx context.Context, filter map[string]any) ([]ListItem, error) {
	items, err := s.store.Where(ctx, model.CollectionStories, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	result := make([]ListItem, 0, len(items))
	for _, item := range items {
		var doc model.StoryDocument
		if err := item.Decode(&doc); err != nil {
			s.logger.Warn("Skipping undecodable story", zap.String("story_id", item.ID), zap.Error(err))
			continue
		}
		result = append(result, ListItem{ID: item.ID, Story: &doc})
	}
	return result, nil
}

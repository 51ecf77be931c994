package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"narrato-server/internal/interfaces"
	"narrato-server/internal/model"

	"go.uber.org/zap"
)

// maxParagraphWords — жесткий потолок длины абзаца: более длинные
// абзацы модели режутся жадным сплитом по словам.
const maxParagraphWords = 30

// maxPromptAttempts — сколько раз перегенерировать список промптов
// иллюстраций, прежде чем сдаться и вернуть пустые промпты.
const maxPromptAttempts = 10

// paddingParagraph добивает историю до нижней границы абзацев.
const paddingParagraph = "And the story continues..."

var (
	codeFenceRe     = regexp.MustCompile("```(?:json)?\\s*|\\s*```")
	trailingArrayRe = regexp.MustCompile(`,(\s*\])`)
	trailingObjRe   = regexp.MustCompile(`,(\s*\})`)
	promptCleanupRe = regexp.MustCompile(`["'\n]`)
)

// Service реализует этапные функции пайплайна истории поверх генераторов
// текста, изображений и озвучки. Этапы-трансформации (стиль, персонажи,
// промпты) никогда не валят пайплайн: невалидный вывод модели заменяется
// детерминированным фолбэком.
type Service struct {
	text   interfaces.TextGenerator
	images interfaces.ImageGenerator
	voice  interfaces.VoiceGenerator
	logger *zap.Logger
}

// NewService создает новый экземпляр пайплайн-сервиса.
func NewService(text interfaces.TextGenerator, images interfaces.ImageGenerator, voice interfaces.VoiceGenerator, logger *zap.Logger) (*Service, error) {
	if text == nil {
		return nil, errors.New("text generator is required")
	}
	if images == nil {
		return nil, errors.New("image generator is required")
	}
	if voice == nil {
		return nil, errors.New("voice generator is required")
	}
	return &Service{
		text:   text,
		images: images,
		voice:  voice,
		logger: logger.Named("Pipeline"),
	}, nil
}

// cleanJSONResponse убирает маркдаун-ограждения и висячие запятые,
// которыми модели регулярно портят "чистый JSON".
func cleanJSONResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = codeFenceRe.ReplaceAllString(cleaned, "")
	cleaned = trailingArrayRe.ReplaceAllString(cleaned, "$1")
	cleaned = trailingObjRe.ReplaceAllString(cleaned, "$1")
	return cleaned
}

// splitLongParagraph режет абзац длиннее 30 слов на последовательные
// куски по 30 слов. Короткий абзац возвращается как есть.
func splitLongParagraph(paragraph string) []string {
	words := strings.Fields(paragraph)
	if len(words) <= maxParagraphWords {
		return []string{paragraph}
	}
	var result []string
	for start := 0; start < len(words); start += maxParagraphWords {
		end := start + maxParagraphWords
		if end > len(words) {
			end = len(words)
		}
		result = append(result, strings.Join(words[start:end], " "))
	}
	return result
}

// fallbackStory — детерминированная заглушка при невалидном выводе модели.
func fallbackStory(minParagraphs int) *model.StoryDocument {
	paragraphs := make([]string, minParagraphs)
	for i := range paragraphs {
		paragraphs[i] = "We encountered an error while creating your story."
	}
	return &model.StoryDocument{
		Title:      "Error Creating Story",
		Paragraphs: paragraphs,
		Moral:      "Sometimes we need to be patient and try again.",
	}
}

// GenerateStoryContent генерирует текст истории. Ошибка самого генератора
// (исчерпание ключей, сеть) поднимается вызывающему; невалидный JSON или
// неполные поля дают фолбэк-документ. Инвариант результата:
// min <= len(paragraphs) <= max, каждый абзац не длиннее 30 слов.
func (s *Service) GenerateStoryContent(ctx context.Context, prompt string, minParagraphs, maxParagraphs int) (*model.StoryDocument, error) {
	raw, err := s.text.Generate(ctx, buildStoryPrompt(prompt, minParagraphs, maxParagraphs))
	if err != nil {
		return nil, fmt.Errorf("story content generation failed: %w", err)
	}

	var doc model.StoryDocument
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &doc); err != nil {
		s.logger.Warn("Story response is not valid JSON, using fallback story", zap.Error(err))
		return fallbackStory(minParagraphs), nil
	}
	if doc.Title == "" || len(doc.Paragraphs) == 0 || doc.Moral == "" {
		s.logger.Warn("Story response is missing required fields, using fallback story")
		return fallbackStory(minParagraphs), nil
	}

	var adjusted []string
	for _, paragraph := range doc.Paragraphs {
		adjusted = append(adjusted, splitLongParagraph(paragraph)...)
	}
	if len(adjusted) > maxParagraphs {
		adjusted = adjusted[:maxParagraphs]
	}
	for len(adjusted) < minParagraphs {
		adjusted = append(adjusted, paddingParagraph)
	}
	doc.Paragraphs = adjusted

	s.logger.Info("Story content generated",
		zap.String("title", doc.Title),
		zap.Int("paragraphs", len(doc.Paragraphs)),
	)
	return &doc, nil
}

// GenerateStyleGuide генерирует гайд по стилю. Любой сбой (генерация,
// парсинг, пустой art_style) дает дефолтный гайд.
func (s *Service) GenerateStyleGuide(ctx context.Context, doc *model.StoryDocument) *model.StyleGuide {
	raw, err := s.text.Generate(ctx, buildStylePrompt(doc))
	if err != nil {
		s.logger.Warn("Style guide generation failed, using default", zap.Error(err))
		return model.DefaultStyleGuide()
	}

	var guide model.StyleGuide
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &guide); err != nil {
		s.logger.Warn("Style guide response is not valid JSON, using default", zap.Error(err))
		return model.DefaultStyleGuide()
	}
	if guide.ArtStyle == (model.ArtStyle{}) {
		s.logger.Warn("Style guide response is missing art_style, using default")
		return model.DefaultStyleGuide()
	}
	return &guide
}

// AnalyzeCharacters строит базу персонажей. Любой сбой дает nil:
// вызывающий подставляет пустую базу и продолжает.
func (s *Service) AnalyzeCharacters(ctx context.Context, doc *model.StoryDocument) *model.CharacterDatabase {
	raw, err := s.text.Generate(ctx, buildCharacterPrompt(doc))
	if err != nil {
		s.logger.Warn("Character analysis failed", zap.Error(err))
		return nil
	}

	var db model.CharacterDatabase
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &db); err != nil {
		s.logger.Warn("Character analysis response is not valid JSON", zap.Error(err))
		return nil
	}
	if len(db.MainCharacters) == 0 && len(db.SupportingCharacters) == 0 {
		s.logger.Warn("Character analysis response has no characters")
		return nil
	}
	return &db
}

// GenerateImagePrompts возвращает ровно len(doc.Paragraphs) промптов.
// До 10 попыток перегенерации при невалидном выводе; если ни одна не
// дала список нужной длины — промпты пустые (изображения пропускаются).
func (s *Service) GenerateImagePrompts(ctx context.Context, doc *model.StoryDocument) []string {
	skipped := make([]string, len(doc.Paragraphs))

	fullPrompt, err := buildImagePromptsPrompt(doc)
	if err != nil {
		s.logger.Error("Failed to build image prompts request", zap.Error(err))
		return skipped
	}

	for attempt := 1; attempt <= maxPromptAttempts; attempt++ {
		if ctx.Err() != nil {
			return skipped
		}

		prompts, err := s.tryGenerateImagePrompts(ctx, fullPrompt, len(doc.Paragraphs))
		if err == nil {
			return prompts
		}
		s.logger.Warn("Image prompt generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxPromptAttempts),
			zap.Error(err),
		)
	}

	s.logger.Error("All image prompt attempts failed, images will be skipped")
	return skipped
}

func (s *Service) tryGenerateImagePrompts(ctx context.Context, fullPrompt string, wantCount int) ([]string, error) {
	raw, err := s.text.Generate(ctx, fullPrompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ImagePrompts []string `json:"image_prompts"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if len(parsed.ImagePrompts) == 0 {
		return nil, errors.New("response is missing the image_prompts key or the list is empty")
	}

	cleaned := make([]string, len(parsed.ImagePrompts))
	for i, p := range parsed.ImagePrompts {
		cleaned[i] = promptCleanupRe.ReplaceAllString(p, "")
	}
	if len(cleaned) != wantCount {
		return nil, fmt.Errorf("mismatch in number of prompts (%d) and paragraphs (%d)", len(cleaned), wantCount)
	}
	return cleaned, nil
}

// GenerateImage генерирует одну иллюстрацию. Пустой промпт и любой сбой
// дают nil — история публикуется без этого изображения.
func (s *Service) GenerateImage(ctx context.Context, prompt string) *string {
	if prompt == "" {
		s.logger.Debug("Image generation skipped due to empty prompt")
		return nil
	}
	url, err := s.images.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("Image generation failed", zap.Error(err))
		return nil
	}
	return &url
}

// GenerateVoice озвучивает один фрагмент. Сбой дает nil — история
// публикуется без этой аудиодорожки.
func (s *Service) GenerateVoice(ctx context.Context, text string) *string {
	url, err := s.voice.Synthesize(ctx, text)
	if err != nil {
		s.logger.Warn("Voice synthesis failed", zap.Error(err))
		return nil
	}
	return &url
}

var _ interfaces.StoryStages = (*Service)(nil)

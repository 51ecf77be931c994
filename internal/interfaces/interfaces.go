package interfaces

import (
	"context"
	"encoding/json"

	"narrato-server/internal/model"
)

// Item — элемент коллекции документного хранилища.
type Item struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// Decode десериализует значение элемента в указанную структуру.
func (it Item) Decode(dst any) error {
	return json.Unmarshal(it.Value, dst)
}

// DocumentStore — адаптер документного хранилища (коллекции shov.com).
// Реализации обязаны сами ретраить транзиентные сбои (ограниченно),
// прежде чем вернуть ошибку вызывающему.
type DocumentStore interface {
	// Add создает документ в коллекции и возвращает присвоенный id.
	Add(ctx context.Context, collection string, value any) (string, error)
	// Update перезаписывает документ по id.
	Update(ctx context.Context, collection, id string, value any) error
	// Where возвращает элементы коллекции, чьи поля равны значениям фильтра.
	Where(ctx context.Context, collection string, filter map[string]any) ([]Item, error)
	// Remove удаляет документ по id.
	Remove(ctx context.Context, collection, id string) error
}

// TextGenerator — одна логическая операция "попросить модель сделать X"
// с фолбэком по тирам моделей и ротацией ключей внутри.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageGenerator генерирует изображение по промпту и возвращает публичный URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VoiceGenerator синтезирует озвучку текста и возвращает публичный URL.
type VoiceGenerator interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Uploader загружает байты в объектное хранилище и возвращает публичный URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, resourceType string) (string, error)
}

// StoryStages — пять этапных функций пайплайна. Каждая трансформация
// обязана переживать невалидный структурированный вывод генератора
// (детерминированные фолбэки вместо остановки пайплайна).
type StoryStages interface {
	// GenerateStoryContent возвращает документ с min <= len(paragraphs) <= max,
	// каждый абзац не длиннее 30 слов.
	GenerateStoryContent(ctx context.Context, prompt string, minParagraphs, maxParagraphs int) (*model.StoryDocument, error)
	// GenerateStyleGuide возвращает гайд по стилю; при сбое — дефолтный.
	GenerateStyleGuide(ctx context.Context, doc *model.StoryDocument) *model.StyleGuide
	// AnalyzeCharacters возвращает базу персонажей; при сбое — nil
	// (вызывающий подставляет пустую базу).
	AnalyzeCharacters(ctx context.Context, doc *model.StoryDocument) *model.CharacterDatabase
	// GenerateImagePrompts возвращает ровно len(doc.Paragraphs) промптов;
	// пустая строка означает "пропустить изображение для этого абзаца".
	GenerateImagePrompts(ctx context.Context, doc *model.StoryDocument) []string
	// GenerateImage — одна внешняя генерация; пустой промпт дает nil URL
	// без обращения к сервису.
	GenerateImage(ctx context.Context, prompt string) *string
	// GenerateVoice — одна внешняя озвучка; сбой дает nil URL.
	GenerateVoice(ctx context.Context, text string) *string
}

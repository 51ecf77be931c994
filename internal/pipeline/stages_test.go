package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"narrato-server/internal/model"
	"narrato-server/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedText отдает заранее заданные ответы по очереди вызовов.
type scriptedText struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedText) Generate(context.Context, string) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return "", errors.New("no scripted response left")
}

type stubImages struct {
	calls int
	url   string
	err   error
}

func (s *stubImages) Generate(context.Context, string) (string, error) {
	s.calls++
	return s.url, s.err
}

type stubVoice struct {
	url string
	err error
}

func (s *stubVoice) Synthesize(context.Context, string) (string, error) {
	return s.url, s.err
}

func newService(t *testing.T, text *scriptedText, images *stubImages, voice *stubVoice) *pipeline.Service {
	t.Helper()
	if images == nil {
		images = &stubImages{}
	}
	if voice == nil {
		voice = &stubVoice{}
	}
	svc, err := pipeline.NewService(text, images, voice, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestGenerateStoryContent_CleansFencesAndTrailingCommas(t *testing.T) {
	text := &scriptedText{responses: []string{
		"```json\n{\"title\": \"The Fox\", \"paragraphs\": [\"A fox ran.\", \"It was fast.\",]," +
			" \"moral\": \"Run fast.\"}\n```",
	}}
	svc := newService(t, text, nil, nil)

	doc, err := svc.GenerateStoryContent(context.Background(), "a fox", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "The Fox", doc.Title)
	assert.Equal(t, []string{"A fox ran.", "It was fast."}, doc.Paragraphs)
	assert.Equal(t, "Run fast.", doc.Moral)
}

func TestGenerateStoryContent_SplitsLongParagraphs(t *testing.T) {
	longParagraph := strings.TrimSpace(strings.Repeat("word ", 65))
	text := &scriptedText{responses: []string{
		fmt.Sprintf(`{"title": "T", "paragraphs": ["%s"], "moral": "M"}`, longParagraph),
	}}
	svc := newService(t, text, nil, nil)

	doc, err := svc.GenerateStoryContent(context.Background(), "theme", 1, 10)
	require.NoError(t, err)
	// 65 слов -> 30 + 30 + 5
	require.Len(t, doc.Paragraphs, 3)
	assert.Len(t, strings.Fields(doc.Paragraphs[0]), 30)
	assert.Len(t, strings.Fields(doc.Paragraphs[1]), 30)
	assert.Len(t, strings.Fields(doc.Paragraphs[2]), 5)
}

func TestGenerateStoryContent_EnforcesParagraphBounds(t *testing.T) {
	t.Run("truncates above max", func(t *testing.T) {
		text := &scriptedText{responses: []string{
			`{"title": "T", "paragraphs": ["a", "b", "c", "d", "e"], "moral": "M"}`,
		}}
		svc := newService(t, text, nil, nil)

		doc, err := svc.GenerateStoryContent(context.Background(), "theme", 2, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, doc.Paragraphs)
	})

	t.Run("pads below min", func(t *testing.T) {
		text := &scriptedText{responses: []string{
			`{"title": "T", "paragraphs": ["a"], "moral": "M"}`,
		}}
		svc := newService(t, text, nil, nil)

		doc, err := svc.GenerateStoryContent(context.Background(), "theme", 3, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "And the story continues...", "And the story continues..."}, doc.Paragraphs)
	})
}

func TestGenerateStoryContent_FallbackOnMalformedJSON(t *testing.T) {
	text := &scriptedText{responses: []string{"this is not json at all"}}
	svc := newService(t, text, nil, nil)

	doc, err := svc.GenerateStoryContent(context.Background(), "theme", 4, 8)
	require.NoError(t, err)
	assert.Equal(t, "Error Creating Story", doc.Title)
	require.Len(t, doc.Paragraphs, 4)
	for _, p := range doc.Paragraphs {
		assert.Equal(t, "We encountered an error while creating your story.", p)
	}
	assert.Equal(t, "Sometimes we need to be patient and try again.", doc.Moral)
}

func TestGenerateStoryContent_GeneratorErrorIsRaised(t *testing.T) {
	genErr := errors.New("all model tiers and keys exhausted")
	text := &scriptedText{errs: []error{genErr}}
	svc := newService(t, text, nil, nil)

	_, err := svc.GenerateStoryContent(context.Background(), "theme", 2, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)
}

func TestGenerateStyleGuide(t *testing.T) {
	doc := &model.StoryDocument{Title: "T", Paragraphs: []string{"a", "b"}}

	t.Run("parses valid guide", func(t *testing.T) {
		text := &scriptedText{responses: []string{
			"```json\n{\"art_style\": {\"overall_style\": \"Watercolor\", \"color_palette\": \"Pastel\"," +
				" \"lighting\": \"Soft\", \"composition\": \"Centered\", \"texture\": \"Paper\", \"perspective\": \"Wide\"}}\n```",
		}}
		svc := newService(t, text, nil, nil)

		guide := svc.GenerateStyleGuide(context.Background(), doc)
		require.NotNil(t, guide)
		assert.Equal(t, "Watercolor", guide.ArtStyle.OverallStyle)
	})

	t.Run("falls back to default on invalid output", func(t *testing.T) {
		text := &scriptedText{responses: []string{"garbage"}}
		svc := newService(t, text, nil, nil)

		guide := svc.GenerateStyleGuide(context.Background(), doc)
		assert.Equal(t, model.DefaultStyleGuide(), guide)
	})

	t.Run("falls back to default on generator error", func(t *testing.T) {
		text := &scriptedText{errs: []error{errors.New("exhausted")}}
		svc := newService(t, text, nil, nil)

		guide := svc.GenerateStyleGuide(context.Background(), doc)
		assert.Equal(t, model.DefaultStyleGuide(), guide)
	})
}

func TestAnalyzeCharacters(t *testing.T) {
	doc := &model.StoryDocument{Title: "T", Paragraphs: []string{"a"}}

	t.Run("parses character database", func(t *testing.T) {
		text := &scriptedText{responses: []string{
			`{"main_characters": [{"name": "Fox", "base_description": "A red fox"}], "supporting_characters": [], "groups": []}`,
		}}
		svc := newService(t, text, nil, nil)

		db := svc.AnalyzeCharacters(context.Background(), doc)
		require.NotNil(t, db)
		require.Len(t, db.MainCharacters, 1)
		assert.Equal(t, "Fox", db.MainCharacters[0].Name)
	})

	t.Run("nil on empty character lists", func(t *testing.T) {
		text := &scriptedText{responses: []string{
			`{"main_characters": [], "supporting_characters": [], "groups": []}`,
		}}
		svc := newService(t, text, nil, nil)
		assert.Nil(t, svc.AnalyzeCharacters(context.Background(), doc))
	})

	t.Run("nil on malformed output", func(t *testing.T) {
		text := &scriptedText{responses: []string{"not json"}}
		svc := newService(t, text, nil, nil)
		assert.Nil(t, svc.AnalyzeCharacters(context.Background(), doc))
	})
}

func TestGenerateImagePrompts_RetriesUntilCountMatches(t *testing.T) {
	doc := &model.StoryDocument{Title: "T", Paragraphs: []string{"a", "b", "c"}}
	text := &scriptedText{responses: []string{
		// Первая попытка: не хватает промптов
		`{"image_prompts": ["one", "two"]}`,
		// Вторая: ровно три, с мусором для очистки
		`{"image_prompts": ["'one' fox", "two\nbirds", "three \"bears\""]}`,
	}}
	svc := newService(t, text, nil, nil)

	prompts := svc.GenerateImagePrompts(context.Background(), doc)
	require.Len(t, prompts, 3)
	assert.Equal(t, []string{"one fox", "twobirds", "three bears"}, prompts)
	assert.Equal(t, 2, text.calls)
}

func TestGenerateImagePrompts_GivesUpAfterMaxAttempts(t *testing.T) {
	doc := &model.StoryDocument{Title: "T", Paragraphs: []string{"a", "b"}}
	responses := make([]string, 10)
	for i := range responses {
		responses[i] = "not json"
	}
	text := &scriptedText{responses: responses}
	svc := newService(t, text, nil, nil)

	prompts := svc.GenerateImagePrompts(context.Background(), doc)
	// Сдаемся, но инвариант длины держим: по пустому промпту на абзац
	assert.Equal(t, []string{"", ""}, prompts)
	assert.Equal(t, 10, text.calls)
}

func TestGenerateImage(t *testing.T) {
	t.Run("skips empty prompt without calling generator", func(t *testing.T) {
		images := &stubImages{url: "https://cdn.example.com/x.png"}
		svc := newService(t, &scriptedText{}, images, nil)

		assert.Nil(t, svc.GenerateImage(context.Background(), ""))
		assert.Zero(t, images.calls)
	})

	t.Run("returns URL on success", func(t *testing.T) {
		images := &stubImages{url: "https://cdn.example.com/x.png"}
		svc := newService(t, &scriptedText{}, images, nil)

		url := svc.GenerateImage(context.Background(), "a fox")
		require.NotNil(t, url)
		assert.Equal(t, "https://cdn.example.com/x.png", *url)
	})

	t.Run("nil on failure", func(t *testing.T) {
		images := &stubImages{err: errors.New("all tokens exhausted")}
		svc := newService(t, &scriptedText{}, images, nil)
		assert.Nil(t, svc.GenerateImage(context.Background(), "a fox"))
	})
}

func TestGenerateVoice(t *testing.T) {
	t.Run("returns URL on success", func(t *testing.T) {
		voice := &stubVoice{url: "https://cdn.example.com/v.mp3"}
		svc := newService(t, &scriptedText{}, nil, voice)

		url := svc.GenerateVoice(context.Background(), "Once upon a time")
		require.NotNil(t, url)
		assert.Equal(t, "https://cdn.example.com/v.mp3", *url)
	})

	t.Run("nil on failure", func(t *testing.T) {
		voice := &stubVoice{err: errors.New("synthesis failed")}
		svc := newService(t, &scriptedText{}, nil, voice)
		assert.Nil(t, svc.GenerateVoice(context.Background(), "text"))
	})
}

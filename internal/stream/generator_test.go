package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"narrato-server/internal/interfaces"
	"narrato-server/internal/model"
	"narrato-server/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu    sync.Mutex
	seq   int
	order map[string][]string
	data  map[string]map[string]json.RawMessage
}

func newMemStore() *memStore {
	return &memStore{
		order: make(map[string][]string),
		data:  make(map[string]map[string]json.RawMessage),
	}
}

func (s *memStore) Add(_ context.Context, collection string, value any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	s.seq++
	id := fmt.Sprintf("id-%d", s.seq)
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]json.RawMessage)
	}
	s.data[collection][id] = raw
	s.order[collection] = append(s.order[collection], id)
	return id, nil
}

func (s *memStore) Update(_ context.Context, collection, id string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if s.data[collection] == nil || s.data[collection][id] == nil {
		return model.ErrNotFound
	}
	s.data[collection][id] = raw
	return nil
}

func (s *memStore) Where(_ context.Context, collection string, filter map[string]any) ([]interfaces.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []interfaces.Item
	for _, id := range s.order[collection] {
		raw := s.data[collection][id]
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		match := true
		for key, want := range filter {
			if doc[key] != want {
				match = false
				break
			}
		}
		if match {
			items = append(items, interfaces.Item{ID: id, Value: raw})
		}
	}
	return items, nil
}

func (s *memStore) Remove(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	for i, existing := range s.order[collection] {
		if existing == id {
			s.order[collection] = append(s.order[collection][:i], s.order[collection][i+1:]...)
			break
		}
	}
	return nil
}

func (s *memStore) count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order[collection])
}

// stubStages — управляемые этапные функции для стриминговых тестов.
type stubStages struct {
	mu         sync.Mutex
	imageCalls []string
	voiceCalls int

	contentFn func(ctx context.Context) (*model.StoryDocument, error)
	imageFn   func(prompt string) *string
}

func (s *stubStages) GenerateStoryContent(ctx context.Context, _ string, _, _ int) (*model.StoryDocument, error) {
	if s.contentFn != nil {
		return s.contentFn(ctx)
	}
	return &model.StoryDocument{
		Title:      "The Brave Fox",
		Paragraphs: []string{"A fox set out.", "It crossed the river."},
		Moral:      "Courage pays off.",
	}, nil
}

func (s *stubStages) GenerateStyleGuide(context.Context, *model.StoryDocument) *model.StyleGuide {
	return model.DefaultStyleGuide()
}

func (s *stubStages) AnalyzeCharacters(context.Context, *model.StoryDocument) *model.CharacterDatabase {
	return model.EmptyCharacterDatabase()
}

func (s *stubStages) GenerateImagePrompts(_ context.Context, doc *model.StoryDocument) []string {
	prompts := make([]string, len(doc.Paragraphs))
	for i := range prompts {
		prompts[i] = fmt.Sprintf("illustration %d", i+1)
	}
	return prompts
}

func (s *stubStages) GenerateImage(_ context.Context, prompt string) *string {
	s.mu.Lock()
	s.imageCalls = append(s.imageCalls, prompt)
	s.mu.Unlock()
	if s.imageFn != nil {
		return s.imageFn(prompt)
	}
	url := "https://cdn.example.com/img.png"
	return &url
}

func (s *stubStages) GenerateVoice(context.Context, string) *string {
	s.mu.Lock()
	s.voiceCalls++
	s.mu.Unlock()
	url := "https://cdn.example.com/audio.mp3"
	return &url
}

func newGenerator(t *testing.T, store *memStore, stages *stubStages) *stream.Generator {
	t.Helper()
	gen, err := stream.NewGenerator(stream.Config{
		Concurrency:       2,
		KeepAliveInterval: time.Minute,
	}, store, stages, zap.NewNop())
	require.NoError(t, err)
	return gen
}

func collect(t *testing.T, events <-chan stream.Event) []stream.Event {
	t.Helper()
	var all []stream.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return all
			}
			all = append(all, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestRun_FreshSessionProducesFinishedStory(t *testing.T) {
	store := newMemStore()
	stages := &stubStages{}
	gen := newGenerator(t, store, stages)

	events := collect(t, gen.Run(context.Background(), stream.Params{
		Prompt:        "a brave fox",
		ImageMode:     model.ImageModeGenerate,
		MinParagraphs: 2,
		MaxParagraphs: 3,
		Email:         "user@example.com",
		Public:        true,
		StoryUUID:     "story-1",
	}))

	require.NotEmpty(t, events)
	final := events[len(events)-1]
	assert.Equal(t, "Finished!", final.Task)
	assert.Equal(t, 100, final.Progress)

	doc, ok := final.Data.(*model.StoryDocument)
	require.True(t, ok)
	assert.Equal(t, "The Brave Fox", doc.Title)
	assert.Equal(t, "user@example.com", doc.Email)
	assert.Equal(t, "story-1", doc.StoryUUID)
	require.Len(t, doc.Images, 2)
	require.Len(t, doc.AudioFiles, 3)

	// История заархивирована, чекпоинт убран
	assert.Equal(t, 1, store.count(model.CollectionStories))
	assert.Zero(t, store.count(model.CollectionCheckpoints))
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	store := newMemStore()
	imgURL := "https://cdn.example.com/img-1.png"
	p1 := "illustration 1"
	seeded := &model.StoryDocument{
		Title:      "The Brave Fox",
		Paragraphs: []string{"a", "b", "c"},
		Moral:      "M",
		StyleGuide: model.DefaultStyleGuide(),
		CharacterDatabase: model.EmptyCharacterDatabase(),
		// Одно из трех изображений уже сгенерировано
		Images: []model.ImageAsset{{URL: &imgURL, Prompt: &p1}},
	}
	_, err := store.Add(context.Background(), model.CollectionCheckpoints, model.StreamCheckpoint{
		StoryUUID:    "story-2",
		Step:         3,
		StoryData:    seeded,
		ImagePrompts: []string{"illustration 1", "illustration 2", "illustration 3"},
	})
	require.NoError(t, err)

	stages := &stubStages{}
	gen := newGenerator(t, store, stages)

	events := collect(t, gen.Run(context.Background(), stream.Params{
		Prompt:    "a brave fox",
		ImageMode: model.ImageModeGenerate,
		StoryUUID: "story-2",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, "Resuming generation...", events[0].Task)
	assert.Equal(t, 35, events[0].Progress)
	assert.Equal(t, "Finished!", events[len(events)-1].Task)

	// Генерировались только недостающие изображения
	assert.Equal(t, []string{"illustration 2", "illustration 3"}, stages.imageCalls)

	doc, ok := events[len(events)-1].Data.(*model.StoryDocument)
	require.True(t, ok)
	require.Len(t, doc.Images, 3)
	assert.Zero(t, store.count(model.CollectionCheckpoints))
}

func TestRun_PromptOnlyModeYieldsNullImageURLs(t *testing.T) {
	store := newMemStore()
	stages := &stubStages{}
	gen := newGenerator(t, store, stages)

	events := collect(t, gen.Run(context.Background(), stream.Params{
		Prompt:        "a fox",
		ImageMode:     model.ImageModePrompt,
		MinParagraphs: 2,
		MaxParagraphs: 3,
		StoryUUID:     "story-3",
	}))

	assert.Empty(t, stages.imageCalls)
	doc, ok := events[len(events)-1].Data.(*model.StoryDocument)
	require.True(t, ok)
	require.Len(t, doc.Images, 2)
	for _, img := range doc.Images {
		assert.Nil(t, img.URL)
		require.NotNil(t, img.Prompt)
		assert.NotEmpty(t, *img.Prompt)
	}
}

func TestRun_ContentFailureEmitsTerminalError(t *testing.T) {
	store := newMemStore()
	stages := &stubStages{contentFn: func(context.Context) (*model.StoryDocument, error) {
		return nil, errors.New("all model tiers and keys exhausted")
	}}
	gen := newGenerator(t, store, stages)

	events := collect(t, gen.Run(context.Background(), stream.Params{
		Prompt:    "a fox",
		StoryUUID: "story-4",
	}))

	require.NotEmpty(t, events)
	final := events[len(events)-1]
	assert.Equal(t, "Error", final.Task)
	payload, ok := final.Data.(map[string]string)
	require.True(t, ok)
	assert.Contains(t, payload["error"], "exhausted")
}

func TestRun_EmitsKeepAlivePings(t *testing.T) {
	store := newMemStore()
	stages := &stubStages{contentFn: func(ctx context.Context) (*model.StoryDocument, error) {
		time.Sleep(120 * time.Millisecond)
		return &model.StoryDocument{Title: "T", Paragraphs: []string{"a", "b"}, Moral: "M"}, nil
	}}
	gen, err := stream.NewGenerator(stream.Config{
		Concurrency:       2,
		KeepAliveInterval: 30 * time.Millisecond,
	}, store, stages, zap.NewNop())
	require.NoError(t, err)

	events := collect(t, gen.Run(context.Background(), stream.Params{
		Prompt:    "a fox",
		ImageMode: model.ImageModePrompt,
		StoryUUID: "story-5",
	}))

	pings := 0
	for _, ev := range events {
		if ev.Task == "Creating story content... (ping)" {
			pings++
		}
	}
	assert.Greater(t, pings, 0, "long stage must produce keep-alive pings")
}

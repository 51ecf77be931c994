package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"narrato-server/internal/interfaces"
	"narrato-server/internal/model"

	"go.uber.org/zap"
)

// Нумерация шагов чекпоинта. Шаг только растет: чекпоинт с step=N
// означает, что все шаги до N включительно завершены и сохранены.
const (
	stepContent  = 1
	stepElements = 2
	stepPrompts  = 3
	stepImages   = 4
	stepAudio    = 5
	stepFinished = 6
)

// Event — одно SSE-событие прогресса. Формат повторяет полли-ответы:
// клиент обрабатывает оба источника одним кодом.
type Event struct {
	Task     string `json:"task"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
	Data     any    `json:"data,omitempty"`
}

// Params — параметры одной стриминговой сессии. StoryUUID обязателен:
// по нему сессия находит свой чекпоинт при переподключении.
type Params struct {
	Prompt        string
	ImageMode     string
	MinParagraphs int
	MaxParagraphs int
	Email         string
	Public        bool
	StoryUUID     string
}

// Generator гонит пайплайн истории с инкрементальными чекпоинтами.
// Оборванная сессия возобновляется с последнего сохраненного шага,
// включая частично сгенерированные изображения и озвучку.
type Generator struct {
	store      interfaces.DocumentStore
	stages     interfaces.StoryStages
	sem        chan struct{}
	keepAlive  time.Duration
	audioPause time.Duration
	logger     *zap.Logger
}

// Config содержит настройки генератора.
type Config struct {
	// Concurrency ограничивает число одновременных внешних генераций.
	Concurrency int
	// KeepAliveInterval — период пинг-событий во время долгих операций.
	KeepAliveInterval time.Duration
	// AudioPause — пауза между озвучками, щадящая лимиты TTS.
	AudioPause time.Duration
}

// NewGenerator создает новый экземпляр стримингового генератора.
func NewGenerator(cfg Config, store interfaces.DocumentStore, stages interfaces.StoryStages, logger *zap.Logger) (*Generator, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	if stages == nil {
		return nil, errors.New("story stages are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	if cfg.AudioPause < 0 {
		cfg.AudioPause = 0
	}
	return &Generator{
		store:      store,
		stages:     stages,
		sem:        make(chan struct{}, cfg.Concurrency),
		keepAlive:  cfg.KeepAliveInterval,
		audioPause: cfg.AudioPause,
		logger:     logger.Named("StreamGenerator"),
	}, nil
}

// session — состояние одного прогона Run.
type session struct {
	params       Params
	checkpointID string
	step         int
	doc          *model.StoryDocument
	prompts      []string
	events       chan<- Event
}

// Run запускает (или возобновляет) генерацию и возвращает канал событий.
// Канал закрывается после терминального события ("Finished!" или "Error")
// либо при отмене контекста.
func (g *Generator) Run(ctx context.Context, params Params) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		g.run(ctx, params, events)
	}()
	return events
}

func (g *Generator) run(ctx context.Context, params Params, events chan<- Event) {
	s := &session{params: params, doc: &model.StoryDocument{}, events: events}

	if params.StoryUUID != "" {
		g.restoreCheckpoint(ctx, s)
	}

	if s.step > 0 {
		if !g.emit(ctx, s, Event{Task: "Resuming generation...", Progress: resumeProgress(s.step), Total: 100, Data: s.doc}) {
			return
		}
	}

	for s.step < stepFinished {
		if ctx.Err() != nil {
			return
		}
		var err error
		switch s.step {
		case 0:
			err = g.runContent(ctx, s)
		case stepContent:
			err = g.runElements(ctx, s)
		case stepElements:
			err = g.runPrompts(ctx, s)
		case stepPrompts:
			err = g.runImages(ctx, s)
		case stepImages:
			err = g.runAudio(ctx, s)
		case stepAudio:
			err = g.runFinalize(ctx, s)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("Stream generation failed",
				zap.String("story_uuid", params.StoryUUID),
				zap.Int("step", s.step),
				zap.Error(err),
			)
			g.emit(ctx, s, Event{Task: "Error", Progress: 100, Total: 100, Data: map[string]string{"error": err.Error()}})
			return
		}
	}
}

// restoreCheckpoint пытается найти чекпоинт сессии. Хранилище с
// read-after-write лагом опрашивается до трех раз.
func (g *Generator) restoreCheckpoint(ctx context.Context, s *session) {
	for attempt := 0; attempt < 3; attempt++ {
		items, err := g.store.Where(ctx, model.CollectionCheckpoints, map[string]any{"story_uuid": s.params.StoryUUID})
		if err == nil && len(items) > 0 {
			var cp model.StreamCheckpoint
			if decodeErr := items[0].Decode(&cp); decodeErr != nil {
				g.logger.Warn("Checkpoint is undecodable, starting fresh",
					zap.String("story_uuid", s.params.StoryUUID),
					zap.Error(decodeErr),
				)
				return
			}
			s.checkpointID = items[0].ID
			s.step = cp.Step
			if cp.StoryData != nil {
				s.doc = cp.StoryData
			}
			s.prompts = cp.ImagePrompts
			g.logger.Info("Resuming stream session",
				zap.String("story_uuid", s.params.StoryUUID),
				zap.String("checkpoint_id", s.checkpointID),
				zap.Int("step", s.step),
			)
			return
		}
		if err != nil {
			g.logger.Warn("Checkpoint lookup failed", zap.Error(err))
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func resumeProgress(step int) int {
	switch step {
	case stepElements:
		return 25
	case stepPrompts:
		return 35
	case stepImages:
		return 70
	case stepAudio:
		return 95
	default:
		return 10
	}
}

// saveCheckpoint публикует текущее состояние. Первая запись создает
// документ, дальнейшие перезаписывают его по id. Сбой записи фатален:
// продолжать без чекпоинта значит врать про возобновляемость.
func (g *Generator) saveCheckpoint(ctx context.Context, s *session, step int) error {
	cp := model.StreamCheckpoint{
		StoryUUID:    s.params.StoryUUID,
		Step:         step,
		StoryData:    s.doc,
		ImagePrompts: s.prompts,
	}
	if s.checkpointID != "" {
		if err := g.store.Update(ctx, model.CollectionCheckpoints, s.checkpointID, cp); err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}
		return nil
	}
	id, err := g.store.Add(ctx, model.CollectionCheckpoints, cp)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	s.checkpointID = id
	return nil
}

// emit отдает событие подписчику; false — клиент отвалился.
func (g *Generator) emit(ctx context.Context, s *session, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// awaitWithKeepAlive выполняет fn и, пока она идет, раз в keepAlive
// шлет пинг-событие, чтобы SSE-соединение не протухло.
func (g *Generator) awaitWithKeepAlive(ctx context.Context, s *session, ping Event, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ev := ping
			ev.Task = ping.Task + " (ping)"
			if !g.emit(ctx, s, ev) {
				<-done
				return
			}
		case <-ctx.Done():
			<-done
			return
		}
	}
}

func (g *Generator) runContent(ctx context.Context, s *session) error {
	if !g.emit(ctx, s, Event{Task: "Creating story content...", Progress: 0, Total: 100}) {
		return ctx.Err()
	}

	var doc *model.StoryDocument
	var err error
	g.awaitWithKeepAlive(ctx, s, Event{Task: "Creating story content...", Progress: 0, Total: 100}, func() {
		doc, err = g.stages.GenerateStoryContent(ctx, s.params.Prompt, s.params.MinParagraphs, s.params.MaxParagraphs)
	})
	if err != nil {
		return err
	}

	s.doc = doc
	if err := g.saveCheckpoint(ctx, s, stepContent); err != nil {
		return err
	}
	g.emit(ctx, s, Event{Task: "Story content generated", Progress: 10, Total: 100, Data: s.doc})
	s.step = stepContent
	return nil
}

func (g *Generator) runElements(ctx context.Context, s *session) error {
	if !g.emit(ctx, s, Event{Task: "Analyzing story elements...", Progress: 15, Total: 100}) {
		return ctx.Err()
	}

	var style *model.StyleGuide
	var chars *model.CharacterDatabase
	g.awaitWithKeepAlive(ctx, s, Event{Task: "Analyzing story elements...", Progress: 15, Total: 100}, func() {
		done := make(chan struct{}, 2)
		go func() { style = g.stages.GenerateStyleGuide(ctx, s.doc); done <- struct{}{} }()
		go func() { chars = g.stages.AnalyzeCharacters(ctx, s.doc); done <- struct{}{} }()
		<-done
		<-done
	})

	s.doc.StyleGuide = style
	if chars == nil {
		chars = model.EmptyCharacterDatabase()
	}
	s.doc.CharacterDatabase = chars

	if err := g.saveCheckpoint(ctx, s, stepElements); err != nil {
		return err
	}
	g.emit(ctx, s, Event{Task: "Story elements analyzed", Progress: 25, Total: 100, Data: s.doc})
	s.step = stepElements
	return nil
}

func (g *Generator) runPrompts(ctx context.Context, s *session) error {
	if !g.emit(ctx, s, Event{Task: "Generating image prompts...", Progress: 30, Total: 100}) {
		return ctx.Err()
	}

	var prompts []string
	g.awaitWithKeepAlive(ctx, s, Event{Task: "Generating image prompts...", Progress: 30, Total: 100}, func() {
		prompts = g.stages.GenerateImagePrompts(ctx, s.doc)
	})

	s.prompts = prompts
	if err := g.saveCheckpoint(ctx, s, stepPrompts); err != nil {
		return err
	}
	g.emit(ctx, s, Event{Task: fmt.Sprintf("Generated %d prompts", len(prompts)), Progress: 35, Total: 100})
	s.step = stepPrompts
	return nil
}

func (g *Generator) runImages(ctx context.Context, s *session) error {
	if s.params.ImageMode == model.ImageModeGenerate {
		if !g.emit(ctx, s, Event{Task: "Generating images...", Progress: 40, Total: 100}) {
			return ctx.Err()
		}

		total := len(s.prompts)
		// При резюме продолжаем с первого несгенерированного изображения
		for i := len(s.doc.Images); i < total; i++ {
			prompt := s.prompts[i]
			progress := 40 + 30*(i+1)/total

			if !g.emit(ctx, s, Event{Task: fmt.Sprintf("Waiting for image slot %d of %d...", i+1, total), Progress: progress, Total: 100}) {
				return ctx.Err()
			}
			select {
			case g.sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if !g.emit(ctx, s, Event{Task: fmt.Sprintf("Generating image %d of %d...", i+1, total), Progress: progress, Total: 100}) {
				<-g.sem
				return ctx.Err()
			}

			var url *string
			g.awaitWithKeepAlive(ctx, s, Event{Task: fmt.Sprintf("Generating image %d of %d...", i+1, total), Progress: progress, Total: 100}, func() {
				url = g.stages.GenerateImage(ctx, prompt)
			})
			<-g.sem

			p := prompt
			s.doc.Images = append(s.doc.Images, model.ImageAsset{URL: url, Prompt: &p})
			if err := g.saveCheckpoint(ctx, s, stepPrompts); err != nil {
				return err
			}
			g.emit(ctx, s, Event{Task: fmt.Sprintf("Generated image %d of %d", i+1, total), Progress: progress, Total: 100, Data: s.doc})
		}
	} else {
		images := make([]model.ImageAsset, len(s.prompts))
		for i, prompt := range s.prompts {
			p := prompt
			images[i] = model.ImageAsset{URL: nil, Prompt: &p}
		}
		s.doc.Images = images
		if !g.emit(ctx, s, Event{Task: "Skipping image generation", Progress: 70, Total: 100}) {
			return ctx.Err()
		}
	}

	if err := g.saveCheckpoint(ctx, s, stepImages); err != nil {
		return err
	}
	s.step = stepImages
	return nil
}

func (g *Generator) runAudio(ctx context.Context, s *session) error {
	if !g.emit(ctx, s, Event{Task: "Generating audio files...", Progress: 75, Total: 100}) {
		return ctx.Err()
	}

	fragments := append([]string{s.doc.Title}, s.doc.Paragraphs...)
	total := len(fragments)
	for i := len(s.doc.AudioFiles); i < total; i++ {
		fragment := fragments[i]
		progress := 75 + 20*(i+1)/total

		if !g.emit(ctx, s, Event{Task: fmt.Sprintf("Waiting for audio slot %d of %d...", i+1, total), Progress: progress, Total: 100}) {
			return ctx.Err()
		}
		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !g.emit(ctx, s, Event{Task: fmt.Sprintf("Generating audio %d of %d...", i+1, total), Progress: progress, Total: 100}) {
			<-g.sem
			return ctx.Err()
		}

		var url *string
		g.awaitWithKeepAlive(ctx, s, Event{Task: fmt.Sprintf("Generating audio %d of %d...", i+1, total), Progress: progress, Total: 100}, func() {
			url = g.stages.GenerateVoice(ctx, fragment)
		})
		<-g.sem

		s.doc.AudioFiles = append(s.doc.AudioFiles, url)
		if g.audioPause > 0 {
			select {
			case <-time.After(g.audioPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := g.saveCheckpoint(ctx, s, stepImages); err != nil {
			return err
		}
		g.emit(ctx, s, Event{
			Task: fmt.Sprintf("Generated audio %d of %d", i+1, total), Progress: progress, Total: 100,
			Data: map[string]any{"audio_file": url, "index": i},
		})
	}

	if err := g.saveCheckpoint(ctx, s, stepAudio); err != nil {
		return err
	}
	s.step = stepAudio
	return nil
}

func (g *Generator) runFinalize(ctx context.Context, s *session) error {
	s.doc.Email = s.params.Email
	s.doc.StoryUUID = s.params.StoryUUID
	s.doc.Public = s.params.Public

	if _, err := g.store.Add(ctx, model.CollectionStories, s.doc); err != nil {
		// История потеряна для архива, но клиенту результат отдаем
		g.logger.Error("Failed to save story to history",
			zap.String("story_uuid", s.params.StoryUUID),
			zap.Error(err),
		)
	}

	if s.checkpointID != "" {
		if err := g.store.Remove(ctx, model.CollectionCheckpoints, s.checkpointID); err != nil {
			g.logger.Warn("Failed to remove stream checkpoint",
				zap.String("checkpoint_id", s.checkpointID),
				zap.Error(err),
			)
		}
	}

	g.emit(ctx, s, Event{Task: "Finished!", Progress: 100, Total: 100, Data: s.doc})
	s.step = stepFinished
	return nil
}

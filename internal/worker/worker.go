package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"narrato-server/internal/interfaces"
	"narrato-server/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Worker — поллинговый воркер пайплайна. Один вызов AdvanceOneStage
// продвигает ровно одну задачу ровно на один этап: выбор задачи,
// лок-маркер, работа этапа, запись следующего этапа. Прогон всего
// пайплайна — это серия внешних вызовов (cron, повторные POST).
type Worker struct {
	store       interfaces.DocumentStore
	stages      interfaces.StoryStages
	concurrency int
	logger      *zap.Logger

	// claims закрывает гонку выбора задачи между параллельными вызовами
	// внутри одного процесса: у документного хранилища нет условной
	// записи, поэтому test-and-set живет здесь, а маркер _inprogress
	// в хранилище защищает от воркеров соседних процессов.
	mu     sync.Mutex
	claims map[string]struct{}
}

// Config содержит настройки воркера.
type Config struct {
	// Concurrency ограничивает параллелизм фан-аута изображений и озвучки.
	Concurrency int
}

// New создает новый экземпляр воркера.
func New(cfg Config, store interfaces.DocumentStore, stages interfaces.StoryStages, logger *zap.Logger) (*Worker, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	if stages == nil {
		return nil, errors.New("story stages are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Worker{
		store:       store,
		stages:      stages,
		concurrency: cfg.Concurrency,
		logger:      logger.Named("Worker"),
		claims:      make(map[string]struct{}),
	}, nil
}

// StepResult — отчет об одном продвинутом этапе.
type StepResult struct {
	TaskID string
	Step   string
}

// AdvanceOneStage выбирает одну готовую задачу и продвигает ее на один этап.
// Возвращает model.ErrNoReadyTasks, если готовых задач нет. Сбой этапа
// переводит задачу в failed и НЕ является ошибкой вызова.
func (w *Worker) AdvanceOneStage(ctx context.Context) (*StepResult, error) {
	id, task, err := w.selectTask(ctx)
	if err != nil {
		return nil, err
	}
	defer w.release(id)

	currentStep := task.GenerationStep
	if task.Status == model.TaskStatusPending {
		currentStep = model.StepStart
	}
	w.logger.Info("Processing task step",
		zap.String("task_id", id),
		zap.String("task_uuid", task.TaskUUID),
		zap.String("step", currentStep),
	)

	started := time.Now()
	if err := w.runStep(ctx, id, task, currentStep); err != nil {
		w.logger.Error("Worker step failed",
			zap.String("task_id", id),
			zap.String("step", currentStep),
			zap.Error(err),
		)
		tasksFailed.WithLabelValues(currentStep).Inc()
		w.markFailed(ctx, id, task, currentStep, err)
		return &StepResult{TaskID: id, Step: currentStep}, nil
	}

	stepsProcessed.WithLabelValues(currentStep).Inc()
	stepDuration.WithLabelValues(currentStep).Observe(time.Since(started).Seconds())
	return &StepResult{TaskID: id, Step: currentStep}, nil
}

// selectTask ищет задачу: сперва processing без лок-маркера, затем самая
// старая pending. Выбранная задача сразу клеймится в процессной карте.
func (w *Worker) selectTask(ctx context.Context) (string, *model.GenerationTask, error) {
	processing, err := w.store.Where(ctx, model.CollectionTasks, map[string]any{"status": string(model.TaskStatusProcessing)})
	if err != nil {
		return "", nil, fmt.Errorf("failed to list processing tasks: %w", err)
	}
	for _, item := range processing {
		var task model.GenerationTask
		if err := item.Decode(&task); err != nil {
			w.logger.Warn("Skipping undecodable task", zap.String("task_id", item.ID), zap.Error(err))
			continue
		}
		if strings.HasSuffix(task.GenerationStep, model.InProgressSuffix) {
			continue
		}
		if w.tryClaim(item.ID) {
			return item.ID, &task, nil
		}
	}

	pending, err := w.store.Where(ctx, model.CollectionTasks, map[string]any{"status": string(model.TaskStatusPending)})
	if err != nil {
		return "", nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	for _, item := range pending {
		var task model.GenerationTask
		if err := item.Decode(&task); err != nil {
			w.logger.Warn("Skipping undecodable task", zap.String("task_id", item.ID), zap.Error(err))
			continue
		}
		if w.tryClaim(item.ID) {
			return item.ID, &task, nil
		}
	}

	return "", nil, model.ErrNoReadyTasks
}

func (w *Worker) tryClaim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, taken := w.claims[id]; taken {
		return false
	}
	w.claims[id] = struct{}{}
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.claims, id)
}

func (w *Worker) runStep(ctx context.Context, id string, task *model.GenerationTask, currentStep string) error {
	switch currentStep {
	case model.StepStart:
		return w.stepStart(ctx, id, task)
	case model.StepGeneratingElems:
		return w.stepElements(ctx, id, task)
	case model.StepGeneratingPrompts:
		return w.stepPrompts(ctx, id, task)
	case model.StepGeneratingImages:
		return w.stepImages(ctx, id, task)
	case model.StepGeneratingAudio:
		return w.stepAudio(ctx, id, task)
	case model.StepSaving:
		return w.stepSaving(ctx, id, task)
	default:
		return fmt.Errorf("unknown generation step %q", currentStep)
	}
}

// lockStep публикует лок-маркер текущего этапа, делая задачу невидимой
// для выбора другими вызовами воркера.
func (w *Worker) lockStep(ctx context.Context, id string, task *model.GenerationTask, step string) error {
	task.GenerationStep = step + model.InProgressSuffix
	if err := w.store.Update(ctx, model.CollectionTasks, id, task); err != nil {
		return fmt.Errorf("failed to lock step %s: %w", step, err)
	}
	return nil
}

func (w *Worker) stepStart(ctx context.Context, id string, task *model.GenerationTask) error {
	task.Status = model.TaskStatusProcessing
	task.Progress = 5
	task.TaskMessage = "Generating story content..."
	if err := w.lockStep(ctx, id, task, model.StepGeneratingContent); err != nil {
		return err
	}

	doc, err := w.stages.GenerateStoryContent(ctx, task.Prompt, task.MinParagraphs, task.MaxParagraphs)
	if err != nil {
		return err
	}

	task.IntermediateData = doc
	task.GenerationStep = model.StepGeneratingElems
	task.Progress = 15
	task.TaskMessage = "Analyzing story elements..."
	return w.store.Update(ctx, model.CollectionTasks, id, task)
}

func (w *Worker) stepElements(ctx context.Context, id string, task *model.GenerationTask) error {
	if err := w.lockStep(ctx, id, task, model.StepGeneratingElems); err != nil {
		return err
	}
	doc := task.IntermediateData
	if doc == nil {
		return errors.New("task has no intermediate story data")
	}

	// Стиль и персонажи независимы, гоним параллельно
	var wg sync.WaitGroup
	var style *model.StyleGuide
	var chars *model.CharacterDatabase
	wg.Add(2)
	go func() {
		defer wg.Done()
		style = w.stages.GenerateStyleGuide(ctx, doc)
	}()
	go func() {
		defer wg.Done()
		chars = w.stages.AnalyzeCharacters(ctx, doc)
	}()
	wg.Wait()

	doc.StyleGuide = style
	if chars == nil {
		chars = model.EmptyCharacterDatabase()
	}
	doc.CharacterDatabase = chars

	task.IntermediateData = doc
	task.GenerationStep = model.StepGeneratingPrompts
	task.Progress = 25
	task.TaskMessage = "Generating image prompts..."
	return w.store.Update(ctx, model.CollectionTasks, id, task)
}

func (w *Worker) stepPrompts(ctx context.Context, id string, task *model.GenerationTask) error {
	if err := w.lockStep(ctx, id, task, model.StepGeneratingPrompts); err != nil {
		return err
	}
	doc := task.IntermediateData
	if doc == nil {
		return errors.New("task has no intermediate story data")
	}

	task.ImagePrompts = w.stages.GenerateImagePrompts(ctx, doc)
	task.GenerationStep = model.StepGeneratingImages
	task.Progress = 35
	task.TaskMessage = "Generating images..."
	return w.store.Update(ctx, model.CollectionTasks, id, task)
}

func (w *Worker) stepImages(ctx context.Context, id string, task *model.GenerationTask) error {
	if err := w.lockStep(ctx, id, task, model.StepGeneratingImages); err != nil {
		return err
	}

	if task.ImageMode == model.ImageModeGenerate {
		doc := task.IntermediateData
		if doc == nil {
			return errors.New("task has no intermediate story data")
		}

		images := make([]model.ImageAsset, len(task.ImagePrompts))
		var wg sync.WaitGroup
		sem := make(chan struct{}, w.concurrency)
		for i, prompt := range task.ImagePrompts {
			wg.Add(1)
			go func(i int, prompt string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				p := prompt
				images[i] = model.ImageAsset{
					URL:    w.stages.GenerateImage(ctx, prompt),
					Prompt: &p,
				}
			}(i, prompt)
		}
		wg.Wait()

		doc.Images = images
		task.IntermediateData = doc
		task.TaskMessage = fmt.Sprintf("Generated %d images", len(images))
	} else {
		task.TaskMessage = "Skipping image generation"
	}

	task.GenerationStep = model.StepGeneratingAudio
	task.Progress = 70
	return w.store.Update(ctx, model.CollectionTasks, id, task)
}

func (w *Worker) stepAudio(ctx context.Context, id string, task *model.GenerationTask) error {
	if err := w.lockStep(ctx, id, task, model.StepGeneratingAudio); err != nil {
		return err
	}
	doc := task.IntermediateData
	if doc == nil {
		return errors.New("task has no intermediate story data")
	}

	// Индекс 0 — заголовок, дальше абзацы
	fragments := append([]string{doc.Title}, doc.Paragraphs...)
	audio := make([]*string, len(fragments))
	var wg sync.WaitGroup
	sem := make(chan struct{}, w.concurrency)
	for i, fragment := range fragments {
		wg.Add(1)
		go func(i int, fragment string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			audio[i] = w.stages.GenerateVoice(ctx, fragment)
		}(i, fragment)
	}
	wg.Wait()

	doc.AudioFiles = audio
	task.IntermediateData = doc
	task.GenerationStep = model.StepSaving
	task.Progress = 95
	task.TaskMessage = "Finalizing and saving story..."
	return w.store.Update(ctx, model.CollectionTasks, id, task)
}

func (w *Worker) stepSaving(ctx context.Context, id string, task *model.GenerationTask) error {
	if err := w.lockStep(ctx, id, task, model.StepSaving); err != nil {
		return err
	}
	doc := task.IntermediateData
	if doc == nil {
		return errors.New("task has no intermediate story data")
	}

	doc.Email = task.Email
	doc.StoryUUID = uuid.NewString()
	doc.Public = task.Public
	if _, err := w.store.Add(ctx, model.CollectionStories, doc); err != nil {
		return fmt.Errorf("failed to save story to history: %w", err)
	}

	task.Status = model.TaskStatusCompleted
	task.GenerationStep = model.StepDone
	task.Progress = 100
	task.TaskMessage = "Story generation complete."
	task.Result = doc
	if err := w.store.Update(ctx, model.CollectionTasks, id, task); err != nil {
		return err
	}
	tasksCompleted.Inc()
	return nil
}

// markFailed переводит задачу в терминальный failed. Запись делается
// с фоновым контекстом: отмена вызова не должна терять вердикт.
func (w *Worker) markFailed(ctx context.Context, id string, task *model.GenerationTask, step string, stepErr error) {
	task.Status = model.TaskStatusFailed
	task.Error = stepErr.Error()
	task.TaskMessage = fmt.Sprintf("An error occurred during step: %s", step)

	writeCtx := ctx
	if writeCtx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := w.store.Update(writeCtx, model.CollectionTasks, id, task); err != nil {
		w.logger.Error("Failed to persist task failure", zap.String("task_id", id), zap.Error(err))
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"narrato-server/internal/interfaces"
	"narrato-server/internal/model"
	"narrato-server/internal/story"
	"narrato-server/internal/stream"
	"narrato-server/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkerRunner — один тик поллингового воркера.
type WorkerRunner interface {
	AdvanceOneStage(ctx context.Context) (*worker.StepResult, error)
}

// StreamRunner — запуск стриминговой генерации.
type StreamRunner interface {
	Run(ctx context.Context, params stream.Params) <-chan stream.Event
}

// Authenticator — операции аутентификации, нужные HTTP-слою.
type Authenticator interface {
	SendCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, pin string) (string, error)
	Verify(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) error
}

// StoryReader — операции чтения/удаления историй, нужные HTTP-слою.
type StoryReader interface {
	PublicStories(ctx context.Context) ([]story.ListItem, error)
	StoriesByEmail(ctx context.Context, email string) ([]story.ListItem, error)
	ByUUID(ctx context.Context, storyUUID string) (*model.StoryDocument, error)
	Delete(ctx context.Context, email, storyID string) error
}

// Handler обслуживает API генерации историй.
type Handler struct {
	store         interfaces.DocumentStore
	worker        WorkerRunner
	streamer      StreamRunner
	auth          Authenticator
	stories       StoryReader
	workerSecret  string
	minParagraphs int
	maxParagraphs int
	logger        *zap.Logger
}

// HandlerConfig содержит настройки HTTP-обработчиков.
type HandlerConfig struct {
	WorkerSecret  string
	MinParagraphs int
	MaxParagraphs int
}

// NewHandler создает новый экземпляр обработчика.
func NewHandler(
	cfg HandlerConfig,
	store interfaces.DocumentStore,
	w WorkerRunner,
	streamer StreamRunner,
	auth Authenticator,
	stories StoryReader,
	logger *zap.Logger,
) (*Handler, error) {
	if store == nil || w == nil || streamer == nil || auth == nil || stories == nil {
		return nil, errors.New("all handler dependencies are required")
	}
	if cfg.WorkerSecret == "" {
		return nil, errors.New("worker secret is not configured")
	}
	if cfg.MinParagraphs <= 0 {
		cfg.MinParagraphs = 15
	}
	if cfg.MaxParagraphs < cfg.MinParagraphs {
		cfg.MaxParagraphs = cfg.MinParagraphs
	}
	return &Handler{
		store:         store,
		worker:        w,
		streamer:      streamer,
		auth:          auth,
		stories:       stories,
		workerSecret:  cfg.WorkerSecret,
		minParagraphs: cfg.MinParagraphs,
		maxParagraphs: cfg.MaxParagraphs,
		logger:        logger.Named("HTTPHandler"),
	}, nil
}

type startGenerationRequest struct {
	Prompt        string `json:"prompt"`
	ImageMode     string `json:"imageMode"`
	Public        bool   `json:"public"`
	MinParagraphs int    `json:"minParagraphs"`
	MaxParagraphs int    `json:"maxParagraphs"`
}

// startStoryGeneration ставит задачу генерации в очередь поллингового воркера.
func (h *Handler) startStoryGeneration(c *gin.Context) {
	var req startGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Prompt is required."})
		return
	}
	if req.ImageMode == "" {
		req.ImageMode = model.ImageModeGenerate
	}
	if req.MinParagraphs <= 0 {
		req.MinParagraphs = h.minParagraphs
	}
	if req.MaxParagraphs <= 0 {
		req.MaxParagraphs = h.maxParagraphs
	}
	if req.MaxParagraphs < req.MinParagraphs {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "maxParagraphs must not be less than minParagraphs."})
		return
	}

	task := model.GenerationTask{
		TaskUUID:      uuid.NewString(),
		Status:        model.TaskStatusPending,
		Prompt:        req.Prompt,
		ImageMode:     req.ImageMode,
		Public:        req.Public,
		MinParagraphs: req.MinParagraphs,
		MaxParagraphs: req.MaxParagraphs,
		Email:         emailFromContext(c),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Progress:      0,
		TaskMessage:   "Task is pending in the queue.",
	}

	if _, err := h.store.Add(c.Request.Context(), model.CollectionTasks, task); err != nil {
		h.logger.Error("Failed to create generation task", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create generation task."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task_uuid": task.TaskUUID})
}

// generationStatus отдает прогресс задачи для поллинга.
func (h *Handler) generationStatus(c *gin.Context) {
	taskUUID := c.Param("task_uuid")
	items, err := h.store.Where(c.Request.Context(), model.CollectionTasks, map[string]any{"task_uuid": taskUUID})
	if err != nil {
		h.logger.Error("Failed to look up task", zap.String("task_uuid", taskUUID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to look up task."})
		return
	}
	if len(items) == 0 {
		h.handleServiceError(c, model.ErrTaskNotFound)
		return
	}

	var task model.GenerationTask
	if err := items[0].Decode(&task); err != nil {
		h.logger.Error("Task document is undecodable", zap.String("task_uuid", taskUUID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Task document is corrupted."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"status":       task.Status,
		"progress":     task.Progress,
		"task_message": task.TaskMessage,
		"result":       task.Result,
		"error":        task.Error,
	})
}

// runWorker — один тик поллингового воркера, дергается внешним
// планировщиком по секрету.
func (h *Handler) runWorker(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+h.workerSecret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	res, err := h.worker.AdvanceOneStage(c.Request.Context())
	if err != nil {
		if errors.Is(err, model.ErrNoReadyTasks) {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "No ready tasks to process."})
			return
		}
		h.logger.Error("Worker tick failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Processed step '%s' for task %s.", res.Step, res.TaskID),
	})
}

// generateStoryStream — SSE-эндпоинт стриминговой генерации.
func (h *Handler) generateStoryStream(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		h.streamSetupError(c, "A story prompt is required.")
		return
	}

	imageMode := c.DefaultQuery("imageMode", model.ImageModeGenerate)
	public := c.Query("public") == "true"
	minParagraphs := intQuery(c, "minParagraphs", h.minParagraphs)
	maxParagraphs := intQuery(c, "maxParagraphs", h.maxParagraphs)

	storyUUID := c.Query("story_uuid")
	if storyUUID == "" {
		// Без uuid сессию не возобновить после обрыва
		storyUUID = uuid.NewString()
	}

	events := h.streamer.Run(c.Request.Context(), stream.Params{
		Prompt:        prompt,
		ImageMode:     imageMode,
		MinParagraphs: minParagraphs,
		MaxParagraphs: maxParagraphs,
		Email:         emailFromContext(c),
		Public:        public,
		StoryUUID:     storyUUID,
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		writeSSE(w, ev)
		return true
	})
}

// streamSetupError отдает ошибку конфигурации потока тем же SSE-форматом,
// который клиент уже умеет разбирать.
func (h *Handler) streamSetupError(c *gin.Context, msg string) {
	c.Header("Content-Type", "text/event-stream")
	writeSSE(c.Writer, stream.Event{
		Task:     "Error",
		Progress: 100,
		Total:    100,
		Data:     map[string]string{"error": "A server setup error occurred: " + msg},
	})
}

func writeSSE(w io.Writer, ev stream.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

func (h *Handler) sendOTP(c *gin.Context) {
	var req sendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body."})
		return
	}
	if err := h.auth.SendCode(c.Request.Context(), req.Email); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Pin   string `json:"pin"`
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body."})
		return
	}
	token, err := h.auth.VerifyCode(c.Request.Context(), req.Email, req.Pin)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

func (h *Handler) logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// publicStories отдает все публичные истории.
func (h *Handler) publicStories(c *gin.Context) {
	items, err := h.stories.PublicStories(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stories": items})
}

// myStories отдает истории аутентифицированного пользователя.
func (h *Handler) myStories(c *gin.Context) {
	items, err := h.stories.StoriesByEmail(c.Request.Context(), emailFromContext(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stories": items})
}

// storyByUUID отдает одну историю по публичному идентификатору.
func (h *Handler) storyByUUID(c *gin.Context) {
	doc, err := h.stories.ByUUID(c.Request.Context(), c.Param("story_uuid"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "story": doc})
}

type deleteStoryRequest struct {
	StoryID string `json:"story_id"`
}

// deleteStory удаляет историю пользователя с проверкой владения.
func (h *Handler) deleteStory(c *gin.Context) {
	var req deleteStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StoryID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: No story ID provided."})
		return
	}
	if err := h.stories.Delete(c.Request.Context(), emailFromContext(c), req.StoryID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleServiceError переводит ошибки сервисов в HTTP-статусы.
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, model.ErrUnauthorized),
		errors.Is(err, model.ErrTokenInvalid),
		errors.Is(err, model.ErrTokenExpired),
		errors.Is(err, model.ErrTokenRevoked):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
	case errors.Is(err, model.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "You are not authorized to perform this action."})
	case errors.Is(err, model.ErrTaskNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "Task not found"})
	case errors.Is(err, model.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
	}
}

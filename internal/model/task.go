package model

// TaskStatus представляет статус задачи генерации.
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Этапы генерации (generation_step задачи). Маркер блокировки — тот же
// этап с суффиксом InProgressSuffix: такая задача принадлежит уже
// работающему вызову воркера и пропускается при выборе.
const (
	StepStart             = "start"
	StepGeneratingContent = "generating_content"
	StepGeneratingElems   = "generating_elements"
	StepGeneratingPrompts = "generating_prompts"
	StepGeneratingImages  = "generating_images"
	StepGeneratingAudio   = "generating_audio"
	StepSaving            = "saving"
	StepDone              = "done"

	InProgressSuffix = "_inprogress"
)

// Режимы работы с изображениями.
const (
	ImageModeGenerate = "generate"
	ImageModePrompt   = "prompt"
)

// GenerationTask — единица работы поллингового воркера.
type GenerationTask struct {
	TaskUUID string     `json:"task_uuid"`
	Status   TaskStatus `json:"status"`

	// GenerationStep — текущий этап; во время активной работы несет
	// суффикс "_inprogress" (лок-маркер).
	GenerationStep string `json:"generation_step,omitempty"`

	Progress    int    `json:"progress"`
	TaskMessage string `json:"task_message,omitempty"`
	Error       string `json:"error,omitempty"`

	Prompt        string `json:"prompt"`
	ImageMode     string `json:"image_mode"`
	Public        bool   `json:"public"`
	MinParagraphs int    `json:"min_paragraphs"`
	MaxParagraphs int    `json:"max_paragraphs"`
	Email         string `json:"email,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`

	// IntermediateData — накапливаемый документ истории; сам воркер
	// относится к нему как к непрозрачному значению между этапами.
	IntermediateData *StoryDocument `json:"intermediate_data,omitempty"`
	ImagePrompts     []string       `json:"image_prompts,omitempty"`

	// Result заполняется только при status=completed.
	Result *StoryDocument `json:"result,omitempty"`
}

// StreamCheckpoint — состояние возобновления одной стриминговой сессии.
// Step только растет; при резюме состояние в памяти восстанавливается
// ИСКЛЮЧИТЕЛЬНО из StoryData/ImagePrompts чекпоинта.
type StreamCheckpoint struct {
	StoryUUID    string         `json:"story_uuid"`
	Step         int            `json:"step"`
	StoryData    *StoryDocument `json:"story_data,omitempty"`
	ImagePrompts []string       `json:"image_prompts,omitempty"`
}

// Имена коллекций в документном хранилище.
const (
	CollectionTasks       = "generation_tasks"
	CollectionStories     = "stories"
	CollectionCheckpoints = "stream_progress"
)

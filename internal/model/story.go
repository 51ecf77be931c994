package model

// StoryDocument — документ истории, накапливаемый пайплайном генерации.
// Поля JSON совпадают с документами, которые хранятся в коллекции 'stories'.
type StoryDocument struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
	Moral      string   `json:"moral"`

	StyleGuide        *StyleGuide        `json:"style_guide,omitempty"`
	CharacterDatabase *CharacterDatabase `json:"character_database,omitempty"`

	// Images — по одной записи на абзац; URL == nil в режиме prompt-only
	// или если генерация изображения не удалась.
	Images []ImageAsset `json:"images,omitempty"`

	// AudioFiles — индекс 0 это озвучка заголовка, дальше по абзацам.
	// nil-элемент означает, что озвучка этого фрагмента не удалась.
	AudioFiles []*string `json:"audio_files,omitempty"`

	// Заполняются только при финализации.
	Email     string `json:"email,omitempty"`
	StoryUUID string `json:"story_uuid,omitempty"`
	Public    bool   `json:"public,omitempty"`
}

// ImageAsset — пара (URL, промпт) для одного абзаца.
type ImageAsset struct {
	URL    *string `json:"url"`
	Prompt *string `json:"prompt"`
}

// StyleGuide — гайд по художественному стилю всей истории.
type StyleGuide struct {
	ArtStyle ArtStyle `json:"art_style"`
}

// ArtStyle описывает шесть фиксированных аспектов арт-направления.
type ArtStyle struct {
	OverallStyle string `json:"overall_style"`
	ColorPalette string `json:"color_palette"`
	Lighting     string `json:"lighting"`
	Composition  string `json:"composition"`
	Texture      string `json:"texture"`
	Perspective  string `json:"perspective"`
}

// DefaultStyleGuide возвращает детерминированный стиль, подставляемый
// при невалидном ответе генератора.
func DefaultStyleGuide() *StyleGuide {
	return &StyleGuide{ArtStyle: ArtStyle{
		OverallStyle: "Digital art style with realistic details",
		ColorPalette: "Rich, vibrant colors with deep contrasts",
		Lighting:     "Dramatic lighting with strong highlights and shadows",
		Composition:  "Dynamic, cinematic compositions",
		Texture:      "Detailed textures with fine grain",
		Perspective:  "Varied angles to enhance dramatic effect",
	}}
}

// CharacterDatabase — база консистентных описаний персонажей.
type CharacterDatabase struct {
	MainCharacters       []Character      `json:"main_characters"`
	SupportingCharacters []Character      `json:"supporting_characters"`
	Groups               []CharacterGroup `json:"groups"`
}

// EmptyCharacterDatabase возвращает базу с тремя пустыми списками —
// подстановка при сбое анализа персонажей, чтобы этап не валил задачу.
func EmptyCharacterDatabase() *CharacterDatabase {
	return &CharacterDatabase{
		MainCharacters:       []Character{},
		SupportingCharacters: []Character{},
		Groups:               []CharacterGroup{},
	}
}

// Character — именованный персонаж с базовым описанием и условными
// вариациями (по эмоциональным триггерам и по точкам сюжета).
type Character struct {
	Name              string             `json:"name"`
	Role              string             `json:"role,omitempty"`
	BaseDescription   string             `json:"base_description"`
	Variations        []Variation        `json:"variations,omitempty"`
	Relationships     []string           `json:"relationships,omitempty"`
	DevelopmentPoints []DevelopmentPoint `json:"development_points,omitempty"`
}

// Variation — переопределение выражения/позы по ключевым словам эмоции.
type Variation struct {
	TriggerKeywords    []string `json:"trigger_keywords"`
	ExpressionOverride string   `json:"expression_override"`
}

// DevelopmentPoint — изменение внешности после ключевого события сюжета.
type DevelopmentPoint struct {
	StoryPoint       string `json:"story_point"`
	AppearanceChange string `json:"appearance_change"`
}

// CharacterGroup — группа персонажей с общим описанием участников.
type CharacterGroup struct {
	Name               string      `json:"name"`
	MembersDescription string      `json:"members_description"`
	Variations         []Variation `json:"variations,omitempty"`
}

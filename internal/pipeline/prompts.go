package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"narrato-server/internal/model"
)

// buildStoryPrompt собирает промпт для генерации текста истории.
// При min == max модели предписывается точное число абзацев.
func buildStoryPrompt(theme string, minParagraphs, maxParagraphs int) string {
	var paragraphRangeDoc, finalInstruction string
	if minParagraphs == maxParagraphs {
		paragraphRangeDoc = fmt.Sprintf("exactly %d", maxParagraphs)
		finalInstruction = fmt.Sprintf("- The story MUST have EXACTLY %d paragraphs.", maxParagraphs)
	} else {
		paragraphRangeDoc = fmt.Sprintf("between %d-%d", minParagraphs, maxParagraphs)
		finalInstruction = fmt.Sprintf(
			"- Number of paragraphs should be between %d and %d.\n- The story should feel complete, don't force it to exactly %d paragraphs",
			minParagraphs, maxParagraphs, maxParagraphs,
		)
	}

	return fmt.Sprintf(`You are a master storyteller writing an engaging and detailed story for a general audience.
Create a rich, vivid story based on this theme: %s

IMPORTANT WRITING GUIDELINES:
1. Write detailed, descriptive paragraphs that paint a clear picture
2. Each paragraph MUST BE 30 WORDS OR LESS
3. Each paragraph should focus on one scene or moment
4. Use sensory details to bring scenes to life (sights, sounds, smells, textures, etc.)
5. Balance dialogue, action, and description
6. Include character emotions and internal thoughts
7. Use simple but expressive language that everyone can understand
8. Create smooth transitions between paragraphs
9. Maintain a steady pace - don't rush through important moments
10. Show character development through actions and reactions
11. Build tension and emotional investment throughout the story

PARAGRAPH STRUCTURE:
- Start with scene-setting details
- Add character actions and reactions
- Include relevant dialogue or internal thoughts
- End with a hook to the next paragraph
- Each paragraph should be a mini-scene that moves the story forward
- STRICTLY KEEP EACH PARAGRAPH UNDER 30 WORDS

Return the story in this EXACT JSON format, with NO additional text or formatting:
{
    "title": "Story Title",
    "paragraphs": [
        "First detailed paragraph text (under 30 words)",
        "Second detailed paragraph text (under 30 words)",
        ... (%s paragraphs)
    ],
    "moral": "The moral lesson from the story"
}

IMPORTANT FORMAT RULES:
- Do NOT add trailing commas after the last item in arrays or objects
- Each paragraph must be under 30 words with rich details
- Story should match the theme: %s
- Return ONLY the JSON object, no other text
%s`, theme, paragraphRangeDoc, theme, finalInstruction)
}

// buildStylePrompt собирает промпт для генерации гайда по арт-стилю.
// Модели показываются заголовок и первые пять абзацев.
func buildStylePrompt(doc *model.StoryDocument) string {
	storyStart := doc.Paragraphs
	if len(storyStart) > 5 {
		storyStart = storyStart[:5]
	}
	return fmt.Sprintf(`Create a consistent art style guide for this story. Read the title and first few paragraphs:
Title: %s
Story start: %s

Return ONLY a JSON object in this format, no other text:
{
    "art_style": {
        "overall_style": "Main art style description",
        "color_palette": "Specific color scheme to use throughout",
        "lighting": "Consistent lighting approach",
        "composition": "Standard composition guidelines",
        "texture": "Texture treatment across all images",
        "perspective": "How scenes should be framed"
    }
}`, doc.Title, strings.Join(storyStart, " "))
}

// buildCharacterPrompt собирает промпт для анализа персонажей истории.
func buildCharacterPrompt(doc *model.StoryDocument) string {
	return fmt.Sprintf(`You are a character designer creating consistent descriptions for all characters in this story.
Analyze the entire story carefully and create detailed, consistent descriptions that will be used for ALL images.

Title: %s
Story: %s

Requirements:
1. Identify ALL named and unnamed but important characters
2. Create VERY detailed descriptions that will remain consistent
3. Include specific details about appearance, clothing, and expressions
4. Use exact measurements and specific colors where possible
5. Consider character development/changes throughout the story

Return ONLY a JSON object in this format:
{
    "main_characters": [
        {
            "name": "Character's name or identifier",
            "role": "Role in story",
            "base_description": "Complete physical description to use in EVERY image",
            "variations": [
                {
                    "trigger_keywords": ["sad", "crying", "upset"],
                    "expression_override": "Detailed description of sad expression and posture"
                },
                {
                    "trigger_keywords": ["happy", "joyful", "laughing"],
                    "expression_override": "Detailed description of happy expression and posture"
                }
            ],
            "relationships": ["Relationship with other characters"],
            "development_points": [
                {
                    "story_point": "Key story event",
                    "appearance_change": "How appearance changes after this point"
                }
            ]
        }
    ],
    "supporting_characters": [],
    "groups": [
        {
            "name": "Group identifier",
            "members_description": "Consistent description for group members",
            "variations": []
        }
    ]
}`, doc.Title, strings.Join(doc.Paragraphs, " "))
}

// buildImagePromptsPrompt собирает промпт для генерации промптов иллюстраций
// по всем абзацам сразу, с базой персонажей и стилевым контекстом.
func buildImagePromptsPrompt(doc *model.StoryDocument) (string, error) {
	paragraphsJSON, err := json.MarshalIndent(doc.Paragraphs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal paragraphs: %w", err)
	}

	charDB := doc.CharacterDatabase
	if charDB == nil {
		charDB = model.EmptyCharacterDatabase()
	}
	charDBJSON, err := json.MarshalIndent(charDB, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal character database: %w", err)
	}

	styleContext := ""
	if doc.StyleGuide != nil {
		art := doc.StyleGuide.ArtStyle
		styleContext = fmt.Sprintf(`Art style requirements (MUST follow exactly):
- Style: %s
- Colors: %s
- Lighting: %s
- Composition: %s
- Texture: %s
- Perspective: %s`, art.OverallStyle, art.ColorPalette, art.Lighting, art.Composition, art.Texture, art.Perspective)
	}

	numParagraphs := len(doc.Paragraphs)
	return fmt.Sprintf(`You are a visual artist creating prompts for an AI image generator.
Your task is to create a detailed image generation prompt for EACH paragraph in the story provided, while maintaining STRICT character and style consistency across all images. Make sure the art style is the same in every image.

**Story Paragraphs:**
%s

**Instructions:**
1.  **Analyze Characters and Scenes:** For each paragraph, identify the characters, their emotional state, and the scene.
2.  **Apply Consistent Descriptions:** Use the provided Character Database to ensure characters look the same in every image. Apply expression_override or appearance_change based on the context of each paragraph.
3.  **Construct Prompts:** Create a list of detailed image prompts, one for each paragraph. Each prompt must:
    - Start with the EXACT, combined character descriptions for that scene.
    - Describe the scene/action from the paragraph.
    - Adhere to the Art Style Guide.
    - Be between 75-100 words.
    - Follow the format: [character descriptions], [scene/action description], [art style], [mood], [lighting].
4.  **Ensure Consistency:** The prompts should tell a cohesive visual story, with consistent characters and environments.
5.  **Match Paragraph Count:** The number of prompts in the final image_prompts list MUST be exactly equal to the number of paragraphs provided. If you are given %d paragraphs, you must generate %d prompts.

**Provided Information:**

**1. Character Database:**
%s

**2. Art Style Guide:**
%s

**Final Output:**
Return ONLY a JSON object in this format. The image_prompts array must contain a prompt for every single paragraph provided. For example, if there are %d paragraphs, there must be %d strings in the image_prompts list.
{
    "image_prompts": [
        "The final, detailed image prompt for paragraph 1.",
        "The final, detailed image prompt for paragraph 2.",
        ...
    ]
}`, paragraphsJSON, numParagraphs, numParagraphs, charDBJSON, styleContext, numParagraphs, numParagraphs), nil
}

package ai

import (
	"fmt"
	"strings"
)

// PromptTemplate defines the guidance given to the model for one intent.
type PromptTemplate struct {
	Goal         string
	ContextRules []string
}

// PromptManager holds the per-intent rephrasing templates.
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a prompt manager with the default templates.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{templates: make(map[string]*PromptTemplate)}
	pm.loadDefaultTemplates()
	return pm
}

// BuildSystemPrompt returns the system prompt for intent. Unknown intents
// get the base prompt alone.
func (pm *PromptManager) BuildSystemPrompt(intent string) string {
	template, ok := pm.templates[intent]
	if !ok {
		return basePrompt
	}

	return fmt.Sprintf(`%s

Goal for this reply: %s

Rules:
- %s`,
		basePrompt,
		template.Goal,
		strings.Join(template.ContextRules, "\n- "),
	)
}

const basePrompt = `You are the voice assistant of a travel booking site. You help travelers find flights and hotels.
Replies are spoken aloud: keep them to one or two short sentences, with no lists, markdown or emoji.
Never invent flight numbers, prices, booking references or policies.`

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates["booking_help"] = &PromptTemplate{
		Goal: "acknowledge the traveler's booking question and ask for the detail needed to help",
		ContextRules: []string{
			"Ask for the booking reference if the traveler has not given one",
			"Do not promise refunds or cancellations",
			"Keep the meaning of the draft reply",
		},
	}

	pm.templates["fallback"] = &PromptTemplate{
		Goal: "steer the conversation back to flights or hotels",
		ContextRules: []string{
			"Mention that you can search flights and hotels",
			"Ask where the traveler wants to go",
			"Keep the meaning of the draft reply",
		},
	}
}

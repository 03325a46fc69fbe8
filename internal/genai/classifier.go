package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// RouterInstruction is the fixed system prompt describing the intent labels.
const RouterInstruction = `You are an expert AI router for a real estate agent's assistant. Your job is to analyze the user's message and determine their primary intent.

Here are the possible intents:
- 'sales_flow_inquiry': The user is showing initial interest in a property. This is often indicated by sending a link (e.g., from property24.com or privateproperty.co.za) or a generic message like "I'm interested."
- 'property_search': The user is explicitly asking to find or see properties, often mentioning a location, price, or number of bedrooms. Example: "Show me houses in Klerksdorp" or "Do you have any 3-bedroom listings?"
- 'booking_request': The user wants to schedule, confirm, or ask about a viewing or appointment. Example: "Can I book a viewing for tomorrow?" or "When are you available?"
- 'knowledge_base_qa': The user is asking a specific question about real estate processes, the agent, or the area. Example: "What are transfer costs?" or "Which areas do you service?"
- 'general_chat': This is a fallback for simple greetings, acknowledgements, or messages where the intent is not clear. Example: "Hello", "Thanks", "ok".

Analyze the user message and determine the most appropriate intent. Report a confidence score from 0 to 1 on how sure you are about the intent.`

// structuredGenerator is the part of Client the classifier needs.
type structuredGenerator interface {
	GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema) (string, error)
}

// IntentClassifier maps a message to one of the routing intents.
type IntentClassifier struct {
	gen structuredGenerator
}

// NewIntentClassifier creates a classifier backed by client.
func NewIntentClassifier(client *Client) *IntentClassifier {
	return &IntentClassifier{gen: client}
}

func routerSchema() Schema {
	labels := make([]string, len(models.Intents))
	for i, intent := range models.Intents {
		labels[i] = string(intent)
	}
	return Schema{
		Name:        "intent_router",
		Description: "The routing decision for the user's message.",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent": map[string]any{
					"type":        "string",
					"enum":        labels,
					"description": "The user's primary intent based on their message.",
				},
				"confidence": map[string]any{
					"type":        "number",
					"description": "A confidence score from 0 to 1 on how sure you are about the intent.",
				},
			},
			"required":             []string{"intent", "confidence"},
			"additionalProperties": false,
		},
	}
}

// Classify asks the model for an intent. Unknown labels map to general_chat
// and the confidence is clamped to [0, 1].
func (c *IntentClassifier) Classify(ctx context.Context, message string) (models.Classification, error) {
	slog.Debug("IntentClassifier.Classify: routing message", "length", len(message))
	raw, err := c.gen.GenerateStructured(ctx, RouterInstruction, fmt.Sprintf("User Message: %q", message), routerSchema())
	if err != nil {
		return models.Classification{}, fmt.Errorf("failed to classify message: %w", err)
	}

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		slog.Warn("IntentClassifier.Classify: unparseable router output", "raw", raw, "error", err)
		return models.Classification{}, fmt.Errorf("failed to parse router output: %w", err)
	}

	result := models.Classification{Intent: models.Intent(out.Intent), Confidence: out.Confidence}
	if !models.IsValidIntent(result.Intent) {
		slog.Warn("IntentClassifier.Classify: unknown intent label", "intent", out.Intent)
		result.Intent = models.IntentGeneralChat
	}
	switch {
	case result.Confidence < 0:
		result.Confidence = 0
	case result.Confidence > 1:
		result.Confidence = 1
	}
	slog.Debug("IntentClassifier.Classify: router output", "intent", result.Intent, "confidence", result.Confidence)
	return result, nil
}

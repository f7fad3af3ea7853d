// Package classify flags menu names that cannot be mapped confidently:
// ambiguous combos and packaged retail products sold at MRP.
package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/menumap/internal/engine"
	"github.com/kalambet/menumap/internal/llmjson"
)

const classificationTimeout = 10 * time.Second

// Chatter is the slice of engine.Engine the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

// Classification describes a menu name before it is mapped.
type Classification struct {
	Ambiguous bool   `json:"ambiguous"`
	MRP       bool   `json:"mrp"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

const systemPrompt = `You classify restaurant menu item names before they are matched to a master food catalog. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Fields:
- "ambiguous": true when the name alone cannot identify one dish, e.g. "combo", "special thali", "chef's choice", "meal for 2".
- "mrp": true when the item is a packaged retail product sold at a printed MRP, e.g. bottled water, soft drink cans, chips, packaged ice cream.
- "category": a short food category such as "main course", "bread", "beverage", "dessert", "snack".
- "reason": one short sentence explaining the flags.`

// BuildPrompt constructs the chat messages for classifying name.
func BuildPrompt(name string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: name},
	}
}

// Classifier runs one structured LLM call per menu name.
type Classifier struct {
	client Chatter
	model  string
}

func NewClassifier(client Chatter, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify returns the flags for name. On any failure (timeout, malformed
// JSON, provider error) it returns the zero value; mapping never blocks on
// classification.
func (c *Classifier) Classify(ctx context.Context, name string) Classification {
	if name == "" {
		return Classification{}
	}

	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(name), engine.ChatOptions{
		Temperature: engine.Temperature(0),
		JSON:        true,
		Schema:      classificationSchema(),
	})
	if err != nil {
		slog.Warn("classification chat failed", "name", name, "error", err)
		return Classification{}
	}

	var result Classification
	if err := llmjson.Object(raw, &result); err != nil {
		slog.Warn("failed to parse classification from LLM response", "error", err, "response", raw)
		return Classification{}
	}
	return result
}

func classificationSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"ambiguous": {Type: "boolean", Description: "Name alone cannot identify a single dish"},
			"mrp":       {Type: "boolean", Description: "Packaged retail product sold at printed MRP"},
			"category":  {Type: "string", Description: "Short food category"},
			"reason":    {Type: "string", Description: "One sentence justification"},
		},
		Required: []string{"ambiguous", "mrp", "category", "reason"},
	}
}

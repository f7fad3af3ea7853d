// Package spelling fixes typos in free-text menu names before retrieval.
package spelling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/menumap/internal/engine"
	"github.com/kalambet/menumap/internal/normalize"
)

const correctionTimeout = 10 * time.Second

// Chatter is the slice of engine.Engine the corrector needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

const promptTemplate = `Correct the spelling of this Indian food item: "%s"
Reply with the exact answer only.
Keep definitive spellings for Indian food items like 'bhaji', 'chapati', 'paratha' and so on.
Note: things like 'parotta' should not get converted to 'paratha'.`

// BuildPrompt returns the single-turn correction request for name.
func BuildPrompt(name string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleUser, Content: fmt.Sprintf(promptTemplate, name)},
	}
}

// Corrector asks a small chat model for the canonical spelling of a dish.
type Corrector struct {
	client      Chatter
	model       string
	temperature float64
}

func NewCorrector(client Chatter, model string, temperature float64) *Corrector {
	return &Corrector{client: client, model: model, temperature: temperature}
}

// Correct returns the normalized corrected name. Any failure falls back to
// normalize.Name(name) so mapping still proceeds with the raw input.
func (c *Corrector) Correct(ctx context.Context, name string) string {
	fallback := normalize.Name(name)
	if fallback == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, correctionTimeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(name), engine.ChatOptions{
		Temperature: engine.Temperature(c.temperature),
	})
	if err != nil {
		slog.Warn("spell correction failed", "name", name, "error", err)
		return fallback
	}

	corrected := normalize.Name(strings.Trim(strings.TrimSpace(raw), `"'`))
	if corrected == "" {
		slog.Debug("spell correction returned empty reply", "name", name)
		return fallback
	}
	return corrected
}

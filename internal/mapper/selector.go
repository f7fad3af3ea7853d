package mapper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/menumap/internal/engine"
	"github.com/kalambet/menumap/internal/retrieval"
)

const contextHeader = "ID,Food Item Name,Vector Score\n"

// Chatter is the slice of engine.Engine the selector needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

// Selection is one exchange with the selection model.
type Selection struct {
	Model    string
	Prompt   string
	Raw      string
	Duration time.Duration
}

// Selector asks the chat model to pick matching catalog items from the
// retrieved candidates.
type Selector struct {
	client      Chatter
	model       string
	prompt      string
	temperature float64
}

// NewSelector builds a Selector. prompt is the template loaded from the
// prompts file; the user input is appended to it verbatim.
func NewSelector(client Chatter, model, prompt string, temperature float64) *Selector {
	return &Selector{client: client, model: model, prompt: prompt, temperature: temperature}
}

// ContextBlock renders candidates as the CSV-like table the prompt refers to.
func ContextBlock(candidates []retrieval.Candidate) string {
	var sb strings.Builder
	sb.WriteString(contextHeader)
	for _, c := range candidates {
		fmt.Fprintf(&sb, "%s,%s\n", c.Text, formatScore(c.Score))
	}
	return sb.String()
}

func formatScore(s float32) string {
	return fmt.Sprintf("%g", s)
}

// BuildMessages returns the chat messages for one selection call.
func (s *Selector) BuildMessages(userInput string, candidates []retrieval.Candidate) []engine.Message {
	system := "Context information is below.\n" +
		"---------------------\n" +
		ContextBlock(candidates) +
		"---------------------\n" +
		"Given the context information and not prior knowledge, answer the query."
	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: s.prompt + userInput},
	}
}

// Select runs the selection call. The returned Selection carries the prompt
// even when the call fails so it can be logged.
func (s *Selector) Select(ctx context.Context, userInput string, candidates []retrieval.Candidate) (Selection, error) {
	msgs := s.BuildMessages(userInput, candidates)
	sel := Selection{
		Model:  s.model,
		Prompt: msgs[0].Content + "\n\n" + msgs[1].Content,
	}

	start := time.Now()
	raw, err := s.client.Chat(ctx, s.model, msgs, engine.ChatOptions{
		Temperature: engine.Temperature(s.temperature),
	})
	sel.Duration = time.Since(start)
	if err != nil {
		return sel, fmt.Errorf("selection chat: %w", err)
	}
	sel.Raw = raw
	return sel, nil
}

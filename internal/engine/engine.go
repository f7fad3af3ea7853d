package engine

import (
	"context"
	"fmt"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Engine abstracts a chat and embedding backend. Consumers such as spelling
// correction, classification, mapping and embedding use this interface
// instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// Name identifies the provider in logs and status output.
	Name() string
}

// ModelManager is implemented by engines that host models locally and can
// download them on demand.
type ModelManager interface {
	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEmbedder is implemented by engines that embed several texts in one
// request. Results are returned in input order.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Options selects and configures a provider.
type Options struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	OllamaBaseURL string
}

// New returns the Engine for opts.Provider.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIEngine(opts.OpenAIAPIKey, opts.OpenAIBaseURL)
	case ProviderGemini:
		return NewGeminiEngine(ctx, opts.GeminiAPIKey)
	case ProviderOllama:
		return NewOllamaEngine(opts.OllamaBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

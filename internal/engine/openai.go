package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEngine talks to the OpenAI API, or any server speaking its wire
// format, through langchaingo. One client is kept per model because
// langchaingo binds the embedding model at construction time.
type OpenAIEngine struct {
	token   string
	baseURL string

	mu      sync.Mutex
	clients map[string]*openai.LLM
}

// NewOpenAIEngine creates an OpenAIEngine. baseURL may be empty.
func NewOpenAIEngine(token, baseURL string) (*OpenAIEngine, error) {
	if token == "" {
		return nil, errors.New("openai: api key is required")
	}
	return &OpenAIEngine{
		token:   token,
		baseURL: baseURL,
		clients: make(map[string]*openai.LLM),
	}, nil
}

func (e *OpenAIEngine) Name() string { return ProviderOpenAI }

func (e *OpenAIEngine) client(model string) (*openai.LLM, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[model]; ok {
		return c, nil
	}
	opts := []openai.Option{
		openai.WithToken(e.token),
		openai.WithModel(model),
		openai.WithEmbeddingModel(model),
	}
	if e.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.baseURL))
	}
	c, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	e.clients[model] = c
	return c, nil
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	c, err := e.client(model)
	if err != nil {
		return "", err
	}

	content := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		content[i] = llms.TextParts(chatMessageType(m.Role), m.Content)
	}

	callOpts := []llms.CallOption{llms.WithModel(model)}
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*opts.Temperature))
	}
	if opts.JSON || opts.Schema != nil {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := c.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: empty response")
	}
	return resp.Choices[0].Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEngine) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	c, err := e.client(model)
	if err != nil {
		return nil, err
	}
	vecs, err := c.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

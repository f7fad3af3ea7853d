package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Prompts   PromptsConfig
	Output    OutputConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
	Mapping   MappingConfig
	Reranking RerankingConfig
	Batch     BatchConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

type LLMConfig struct {
	Provider      string // openai, gemini or ollama
	ChatModel     string
	SpellModel    string
	EmbedModel    string
	Temperature   float64
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	OllamaBaseURL string
}

type StorageConfig struct {
	DataDir string
}

type CatalogConfig struct {
	Path  string
	Watch bool
}

type PromptsConfig struct {
	Path     string
	PromptID int
}

type OutputConfig struct {
	Dir string
}

type RetrievalConfig struct {
	Backend          string // sqlite or chroma
	TopK             int
	ChromaURL        string
	ChromaCollection string
}

type CacheConfig struct {
	RedisAddr string
	TTL       string
}

type MappingConfig struct {
	Threshold float64
}

type RerankingConfig struct {
	Enabled   bool
	Timeout   string
	Threshold float64
	// TopK returns as soon as this many candidates are scored; 0 scores all.
	TopK int
}

type BatchConfig struct {
	Workers     int
	MaxAttempts int
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Provider:      ProviderOpenAI,
			ChatModel:     "gpt-4o",
			SpellModel:    "gpt-4o-mini",
			EmbedModel:    "text-embedding-3-small",
			Temperature:   0.3,
			OllamaBaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Catalog: CatalogConfig{
			Path:  "menu_data.json",
			Watch: true,
		},
		Prompts: PromptsConfig{
			Path:     "prompt_data.csv",
			PromptID: 4,
		},
		Output: OutputConfig{
			Dir: filepath.Join("menu_mapping", "output"),
		},
		Retrieval: RetrievalConfig{
			Backend:          "sqlite",
			TopK:             10,
			ChromaURL:        "http://localhost:8000",
			ChromaCollection: "master_menu",
		},
		Cache: CacheConfig{
			TTL: "24h",
		},
		Mapping: MappingConfig{
			Threshold: 0.6,
		},
		Reranking: RerankingConfig{
			Enabled:   false,
			Timeout:   "5s",
			Threshold: 0.3,
			TopK:      0,
		},
		Batch: BatchConfig{
			Workers:     4,
			MaxAttempts: 3,
		},
	}
}

// dotenvPath is the .env file consulted by Load. Variables already present in
// the process environment win over the file.
var dotenvPath = ".env"

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/menumap/config.json, then a .env file in the working
// directory, then MENUMAP_* environment variables.
//
// Load does not check that provider credentials are present; call Validate
// before constructing LLM clients.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", dotenvPath, err)
	}

	applyEnvOverrides(&cfg)

	// Legacy variable names used by earlier deployments.
	if cfg.LLM.OpenAIAPIKey == "" {
		for _, env := range []string{"OPENAI_API_KEY", "OPEN_API_KEY"} {
			if v := os.Getenv(env); v != "" {
				cfg.LLM.OpenAIAPIKey = v
				break
			}
		}
	}
	if cfg.LLM.GeminiAPIKey == "" {
		cfg.LLM.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}

	return cfg, nil
}

// Validate reports missing or inconsistent settings needed to talk to the
// configured LLM provider and vector backend.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("missing required config: OpenAI API key. Set it via environment variable MENUMAP_OPENAI_API_KEY or OPENAI_API_KEY")
		}
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable MENUMAP_GEMINI_API_KEY or GEMINI_API_KEY")
		}
	case ProviderOllama:
		if c.LLM.OllamaBaseURL == "" {
			return fmt.Errorf("missing required config: llm.ollama_base_url")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q (want openai, gemini or ollama)", c.LLM.Provider)
	}

	switch c.Retrieval.Backend {
	case "sqlite", "chroma":
	default:
		return fmt.Errorf("unknown retrieval.backend %q (want sqlite or chroma)", c.Retrieval.Backend)
	}

	if c.Mapping.Threshold < 0 || c.Mapping.Threshold > 1 {
		return fmt.Errorf("mapping.threshold must be within [0, 1], got %g", c.Mapping.Threshold)
	}
	if c.Reranking.TopK < 0 {
		return fmt.Errorf("reranking.top_k must not be negative, got %d", c.Reranking.TopK)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "menumap-data"
		}
	}
	return filepath.Join(dir, "menumap")
}

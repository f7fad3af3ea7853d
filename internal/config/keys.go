package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MENUMAP_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "MENUMAP_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "MENUMAP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "llm.provider", typ: kString, env: "MENUMAP_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.chat_model", typ: kString, env: "MENUMAP_LLM_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ChatModel },
	},
	{
		key: "llm.spell_model", typ: kString, env: "MENUMAP_LLM_SPELL_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.SpellModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.SpellModel },
	},
	{
		key: "llm.embed_model", typ: kString, env: "MENUMAP_LLM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "MENUMAP_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "MENUMAP_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.openai_base_url", typ: kString, env: "MENUMAP_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIBaseURL },
	},
	{
		key: "llm.gemini_api_key", typ: kString, env: "MENUMAP_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GeminiAPIKey },
	},
	{
		key: "llm.ollama_base_url", typ: kString, env: "MENUMAP_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaBaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MENUMAP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.path", typ: kString, env: "MENUMAP_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "catalog.watch", typ: kBool, env: "MENUMAP_CATALOG_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Catalog.Watch },
	},
	{
		key: "prompts.path", typ: kString, env: "MENUMAP_PROMPTS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Prompts.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompts.Path },
	},
	{
		key: "prompts.prompt_id", typ: kInt, env: "MENUMAP_PROMPTS_PROMPT_ID",
		apply:   func(cfg *Config, v any) { cfg.Prompts.PromptID = v.(int) },
		extract: func(cfg Config) any { return cfg.Prompts.PromptID },
	},
	{
		key: "output.dir", typ: kString, env: "MENUMAP_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Output.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Dir },
	},
	{
		key: "retrieval.backend", typ: kString, env: "MENUMAP_RETRIEVAL_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Backend },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "MENUMAP_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.chroma_url", typ: kString, env: "MENUMAP_RETRIEVAL_CHROMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChromaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChromaURL },
	},
	{
		key: "retrieval.chroma_collection", typ: kString, env: "MENUMAP_RETRIEVAL_CHROMA_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChromaCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChromaCollection },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "MENUMAP_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.ttl", typ: kString, env: "MENUMAP_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "mapping.threshold", typ: kFloat, env: "MENUMAP_MAPPING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Mapping.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Mapping.Threshold },
	},
	{
		key: "reranking.enabled", typ: kBool, env: "MENUMAP_RERANKING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Reranking.Enabled },
	},
	{
		key: "reranking.timeout", typ: kString, env: "MENUMAP_RERANKING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Reranking.Timeout },
	},
	{
		key: "reranking.threshold", typ: kFloat, env: "MENUMAP_RERANKING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Reranking.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reranking.Threshold },
	},
	{
		key: "reranking.top_k", typ: kInt, env: "MENUMAP_RERANKING_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Reranking.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Reranking.TopK },
	},
	{
		key: "batch.workers", typ: kInt, env: "MENUMAP_BATCH_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Batch.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.Workers },
	},
	{
		key: "batch.max_attempts", typ: kInt, env: "MENUMAP_BATCH_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Batch.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.MaxAttempts },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

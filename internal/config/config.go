package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all doppel configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Persona   PersonaConfig   `yaml:"persona"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "gemini", "anthropic", "ollama"
	Model        string `yaml:"model"`
	GeminiKey    string `yaml:"gemini_key"`
	AnthropicKey string `yaml:"anthropic_key"`
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "gemini", "ollama", "none"
	Model      string `yaml:"model"`    // e.g. "text-embedding-004", "nomic-embed-text"
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int64  `yaml:"cache_size"` // max cached embeddings, 0 disables the cache
}

// PersonaConfig describes the twin whose voice the reply pipeline speaks in.
type PersonaConfig struct {
	Name         string            `yaml:"name"`
	Traits       map[string]string `yaml:"traits"`
	Style        map[string]string `yaml:"style"`
	Interests    []string          `yaml:"interests"`
	LearnedFacts []string          `yaml:"learned_facts"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38800,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
		},
		Embedding: EmbeddingConfig{
			Provider:   "gemini",
			Model:      "text-embedding-004",
			Dimensions: 768,
			CacheSize:  4096,
		},
	}
}

// Load reads a YAML config file and applies environment overrides on top of
// defaults. An empty path skips the file and returns defaults + env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Env always wins
// over file values so deployments can keep keys out of the config file.
func (c *Config) applyEnv() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.AnthropicKey = key
	}
	if path := os.Getenv("DOPPEL_DB"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.LLM.OllamaURL = url
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources    Sources    `yaml:"sources"`
	LLM        LLM        `yaml:"llm"`
	Tagging    Tagging    `yaml:"tagging"`
	Generation Generation `yaml:"generation"`
	Digest     Digest     `yaml:"digest"`
	Memory     Memory     `yaml:"memory"`
	WebSearch  WebSearch  `yaml:"websearch"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Sources struct {
	Feeds []Feed     `yaml:"feeds"`
	APIs  APIsConfig `yaml:"apis"`
}

// Feed is one RSS/Atom source. Authority ranks sources for the
// unpersonalized digest pool (higher is more authoritative).
type Feed struct {
	URL       string `yaml:"url"`
	Name      string `yaml:"name"`
	Authority int    `yaml:"authority"`
}

type APIsConfig struct {
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	Authority int    `yaml:"authority"`
}

type LLM struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	OpenAIModel    string `yaml:"openai_model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// Tagging is the vocabulary used by the dictionary tagger when the
// generation backend is unavailable.
type Tagging struct {
	Companies    []string `yaml:"companies"`
	Industries   []string `yaml:"industries"`
	Technologies []string `yaml:"technologies"`
	People       []string `yaml:"people"`
}

// Generation holds the budgets of the tiered generation ladder.
type Generation struct {
	CombinedTimeout  time.Duration `yaml:"combined_timeout"`
	MicroTimeout     time.Duration `yaml:"micro_timeout"`
	StandardTimeout  time.Duration `yaml:"standard_timeout"`
	DetailedTimeout  time.Duration `yaml:"detailed_timeout"`
	ChatTimeout      time.Duration `yaml:"chat_timeout"`
	ChatRetryTimeout time.Duration `yaml:"chat_retry_timeout"`
}

type Digest struct {
	MaxItems      int `yaml:"max_items"`
	LookbackHours int `yaml:"lookback_hours"`
}

type Memory struct {
	ImmediateItems      int `yaml:"immediate_items"`
	ImmediateDigests    int `yaml:"immediate_digests"`
	SessionTurns        int `yaml:"session_turns"`
	ArchiveTopK         int `yaml:"archive_top_k"`
	ArchiveLookbackDays int `yaml:"archive_lookback_days"`
}

type WebSearch struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Results int    `yaml:"results"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port        int           `yaml:"port"`
	SessionIdle time.Duration `yaml:"session_idle"`
	MaxSessions int           `yaml:"max_sessions"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for curator.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "curator")
}

// DataDir returns the XDG data directory for curator.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "curator")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/curator/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'curator init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		Sources: Sources{
			APIs: APIsConfig{
				NewsAPI: NewsAPIConfig{
					Enabled:   false,
					APIKeyEnv: "NEWSAPI_KEY",
					Query:     "technology industry",
					Authority: 3,
				},
			},
		},
		LLM: LLM{
			Provider:       "ollama",
			Model:          "qwen2.5:7b",
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      1024,
		},
		Generation: Generation{
			CombinedTimeout:  120 * time.Second,
			MicroTimeout:     30 * time.Second,
			StandardTimeout:  45 * time.Second,
			DetailedTimeout:  60 * time.Second,
			ChatTimeout:      60 * time.Second,
			ChatRetryTimeout: 30 * time.Second,
		},
		Digest: Digest{MaxItems: 10, LookbackHours: 24},
		Memory: Memory{
			ImmediateItems:      20,
			ImmediateDigests:    3,
			SessionTurns:        5,
			ArchiveTopK:         5,
			ArchiveLookbackDays: 30,
		},
		WebSearch: WebSearch{
			Enabled: false,
			BaseURL: "https://html.duckduckgo.com/html/",
			Results: 3,
		},
		Server:  Server{Port: 8000, SessionIdle: 30 * time.Minute, MaxSessions: 1000},
		Logging: Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with. Errors here are
// fatal at startup; nothing is recovered mid-request.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	timeouts := map[string]time.Duration{
		"generation.combined_timeout":   c.Generation.CombinedTimeout,
		"generation.micro_timeout":      c.Generation.MicroTimeout,
		"generation.standard_timeout":   c.Generation.StandardTimeout,
		"generation.detailed_timeout":   c.Generation.DetailedTimeout,
		"generation.chat_timeout":       c.Generation.ChatTimeout,
		"generation.chat_retry_timeout": c.Generation.ChatRetryTimeout,
		"server.session_idle":           c.Server.SessionIdle,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	limits := map[string]int{
		"digest.max_items":             c.Digest.MaxItems,
		"digest.lookback_hours":        c.Digest.LookbackHours,
		"memory.immediate_items":       c.Memory.ImmediateItems,
		"memory.immediate_digests":     c.Memory.ImmediateDigests,
		"memory.session_turns":         c.Memory.SessionTurns,
		"memory.archive_top_k":         c.Memory.ArchiveTopK,
		"memory.archive_lookback_days": c.Memory.ArchiveLookbackDays,
		"server.max_sessions":          c.Server.MaxSessions,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.WebSearch.Enabled && c.WebSearch.BaseURL == "" {
		return fmt.Errorf("websearch.base_url is required when websearch is enabled")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Package config holds the mnemos configuration: YAML file with
// environment overrides. String durations are parsed at the accessors
// so a malformed value degrades to the default instead of failing boot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all mnemos configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Corpus     CorpusConfig     `yaml:"corpus"`
	Capsule    CapsuleConfig    `yaml:"capsule"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Validation ValidationConfig `yaml:"validation"`
	Session    SessionConfig    `yaml:"session"`
	LTM        LTMConfig        `yaml:"ltm"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CorpusConfig locates the transcript corpora.
type CorpusConfig struct {
	// Root contains one directory of transcript files per persona.
	Root string `yaml:"root"`
	// RulesPath optionally points at a YAML entity/anchor rule table
	// that extends the built-in rules.
	RulesPath string `yaml:"rules_path"`
}

// CapsuleConfig configures the capsule cache.
type CapsuleConfig struct {
	CacheSize int    `yaml:"cache_size"`
	TTL       string `yaml:"ttl"`
}

// RetrievalConfig configures scoring and filtering.
type RetrievalConfig struct {
	DefaultLimit      int     `yaml:"default_limit"`
	MinToneConfidence float64 `yaml:"min_tone_confidence"`
	RequestTimeout    string  `yaml:"request_timeout"`
}

// ValidationConfig configures the grounding gate.
type ValidationConfig struct {
	BankPath         string `yaml:"bank_path"`
	MinOverlapLength int    `yaml:"min_overlap_length"`
	TopHits          int    `yaml:"top_hits"`
}

// SessionConfig configures short-term conversation state.
type SessionConfig struct {
	HistoryCap int    `yaml:"history_cap"`
	IdleTTL    string `yaml:"idle_ttl"`
}

// LTMConfig configures the long-term memory collaborator.
type LTMConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	// DatabasePath selects the local SQLite implementation when BaseURL
	// is empty.
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mnemos",
		Version: "0.3.0",

		Corpus: CorpusConfig{
			Root: "data/transcripts",
		},

		Capsule: CapsuleConfig{
			CacheSize: 10,
			TTL:       "15m",
		},

		Retrieval: RetrievalConfig{
			DefaultLimit:      20,
			MinToneConfidence: 0.35,
			RequestTimeout:    "5s",
		},

		Validation: ValidationConfig{
			MinOverlapLength: 20,
			TopHits:          5,
		},

		Session: SessionConfig{
			HistoryCap: 50,
			IdleTTL:    "2h",
		},

		LTM: LTMConfig{
			Enabled:     false,
			Timeout:     "3s",
			MaxAttempts: 3,
			BaseDelay:   "200ms",
			MaxDelay:    "2s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Dir:       "data/logs",
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies MNEMOS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("MNEMOS_CORPUS_ROOT"); root != "" {
		c.Corpus.Root = root
	}
	if url := os.Getenv("MNEMOS_LTM_URL"); url != "" {
		c.LTM.BaseURL = url
		c.LTM.Enabled = true
	}
	if path := os.Getenv("MNEMOS_LTM_DB"); path != "" {
		c.LTM.DatabasePath = path
		c.LTM.Enabled = true
	}
	if bank := os.Getenv("MNEMOS_VALIDATION_BANK"); bank != "" {
		c.Validation.BankPath = bank
	}
	if debug := os.Getenv("MNEMOS_DEBUG"); debug != "" {
		if v, err := strconv.ParseBool(debug); err == nil {
			c.Logging.DebugMode = v
		}
	}
}

// Validate checks values that would otherwise fail far from boot.
func (c *Config) Validate() error {
	if c.Capsule.CacheSize <= 0 {
		return fmt.Errorf("capsule.cache_size must be positive, got %d", c.Capsule.CacheSize)
	}
	if c.Session.HistoryCap <= 0 {
		return fmt.Errorf("session.history_cap must be positive, got %d", c.Session.HistoryCap)
	}
	if c.Retrieval.MinToneConfidence < 0 || c.Retrieval.MinToneConfidence > 1 {
		return fmt.Errorf("retrieval.min_tone_confidence must be in [0,1], got %v", c.Retrieval.MinToneConfidence)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// CapsuleTTL returns the capsule cache TTL.
func (c *Config) CapsuleTTL() time.Duration {
	return parseDuration(c.Capsule.TTL, 15*time.Minute)
}

// RequestTimeout returns the per-request retrieval budget.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Retrieval.RequestTimeout, 5*time.Second)
}

// SessionIdleTTL returns the session idle expiry.
func (c *Config) SessionIdleTTL() time.Duration {
	return parseDuration(c.Session.IdleTTL, 2*time.Hour)
}

// LTMTimeout returns the per-call long-term memory timeout.
func (c *Config) LTMTimeout() time.Duration {
	return parseDuration(c.LTM.Timeout, 3*time.Second)
}

// LTMBaseDelay returns the retry backoff base delay.
func (c *Config) LTMBaseDelay() time.Duration {
	return parseDuration(c.LTM.BaseDelay, 200*time.Millisecond)
}

// LTMMaxDelay returns the retry backoff delay ceiling.
func (c *Config) LTMMaxDelay() time.Duration {
	return parseDuration(c.LTM.MaxDelay, 2*time.Second)
}

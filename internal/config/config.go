/*
PURPOSE:
  Defines the configuration structure and loading logic for stream-probe.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Configure the target endpoint, the three probe budgets, the prompt and the probe set.
  - The API key is a credential: loaded, never persisted.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs environment overrides (STREAM_PROBE_...) and a local .env file for the key.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3, github.com/joho/godotenv

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - A missing default file is not an error (falls back to defaults).
  - Validation failures wrap ErrInvalidConfig.

USAGE:
  cfg, err := config.Load("stream_probe.yaml")

RELATED FILES:
  - internal/config/env.go
  - internal/cli/root.go
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daryltucker/stream-probe/internal/model"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultFiles are searched, in order, when no config path is given.
var DefaultFiles = []string{"stream_probe.yaml", "stream_probe.yml", ".stream_probe.yaml"}

// Benchmark clients.
const (
	ClientHTTP = "http"
	ClientSDK  = "sdk"
)

// Config represents the full configuration for stream-probe.
type Config struct {
	BaseURL string `yaml:"base_url"`
	// APIKey is sent as a bearer token. Local servers accept any value.
	APIKey    string `yaml:"api_key"`
	Prompt    string `yaml:"prompt"`
	MaxTokens int    `yaml:"max_tokens"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	FirstByteTimeout  time.Duration `yaml:"first_byte_timeout"`
	FirstEventTimeout time.Duration `yaml:"first_event_timeout"`
	HangGrace         time.Duration `yaml:"hang_grace"`
	PreviewLimit      int           `yaml:"preview_limit"`

	Probes []model.ProbeKind `yaml:"probes"`
	// Exclude is a list of substrings; matching models are skipped by benchmark.
	Exclude []string `yaml:"exclude"`
	// BenchmarkClient selects the probe pair used by benchmark: "http" or "sdk".
	BenchmarkClient string `yaml:"benchmark_client"`
	// Aliases map short names to catalog ids, e.g. "qwen" -> "qwen2.5-7b-instruct".
	Aliases map[string]string `yaml:"aliases"`

	OutputDir string  `yaml:"output_dir"`
	Locator   Locator `yaml:"locator"`
}

// Locator configures how the running server is discovered.
type Locator struct {
	Host  string `yaml:"host"`
	Ports []int  `yaml:"ports"`
	// Command is an optional status command, e.g. ["lms", "server", "status", "--json"].
	Command []string `yaml:"command"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://127.0.0.1:1234",
		APIKey:            "lm-studio",
		Prompt:            "Reply with the single word: hi",
		MaxTokens:         32,
		RequestTimeout:    60 * time.Second,
		FirstByteTimeout:  20 * time.Second,
		FirstEventTimeout: 30 * time.Second,
		HangGrace:         2 * time.Second,
		PreviewLimit:      200,
		Probes:            append([]model.ProbeKind(nil), model.DefaultProbeOrder...),
		Exclude:           []string{"embed"},
		BenchmarkClient:   ClientHTTP,
		OutputDir:         ".",
		Locator: Locator{
			Host:  "127.0.0.1",
			Ports: []int{1234, 11434, 8080},
		},
	}
}

// Load reads configuration from a file, then applies .env and STREAM_PROBE_* overrides.
// If path is empty, it searches DefaultFiles and falls back to defaults when none exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the probes rely on.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, "base_url is empty")
	}
	if c.MaxTokens <= 0 {
		problems = append(problems, "max_tokens must be positive")
	}
	for name, d := range map[string]time.Duration{
		"request_timeout":     c.RequestTimeout,
		"first_byte_timeout":  c.FirstByteTimeout,
		"first_event_timeout": c.FirstEventTimeout,
		"hang_grace":          c.HangGrace,
	} {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if len(c.Probes) == 0 {
		problems = append(problems, "probes is empty")
	}
	for _, k := range c.Probes {
		if !k.Valid() {
			problems = append(problems, fmt.Sprintf("unknown probe %q", k))
		}
	}
	if c.BenchmarkClient != ClientHTTP && c.BenchmarkClient != ClientSDK {
		problems = append(problems, fmt.Sprintf("benchmark_client must be %q or %q", ClientHTTP, ClientSDK))
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// Effective returns the persisted view of the config. The API key is omitted.
func (c *Config) Effective(promptHash string) model.EffectiveConfig {
	return model.EffectiveConfig{
		BaseURL:             c.BaseURL,
		PromptHash:          promptHash,
		MaxTokens:           c.MaxTokens,
		RequestTimeoutMs:    c.RequestTimeout.Milliseconds(),
		FirstByteTimeoutMs:  c.FirstByteTimeout.Milliseconds(),
		FirstEventTimeoutMs: c.FirstEventTimeout.Milliseconds(),
		Probes:              append([]model.ProbeKind(nil), c.Probes...),
	}
}

// Excluded reports whether a model id matches one of the exclude substrings (case-insensitive).
func (c *Config) Excluded(id string) bool {
	lower := strings.ToLower(id)
	for _, ex := range c.Exclude {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}

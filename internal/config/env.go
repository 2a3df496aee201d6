/*
PURPOSE:
  Environment layer of the config: .env file, then STREAM_PROBE_* variables.

IMPLEMENTATION RULES:
  - Applied after the YAML file and before CLI flags.
  - Unparseable values are errors, not silently ignored.
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/daryltucker/stream-probe/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STREAM_PROBE_"

// DotEnvFile is loaded into the process environment if present. Variables that are already set
// win over the file.
var DotEnvFile = ".env"

func loadDotEnv() error {
	if _, err := os.Stat(DotEnvFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(DotEnvFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}
	return nil
}

// ApplyEnv overrides fields from STREAM_PROBE_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := get("API_KEY"); ok {
		c.APIKey = v
	}
	if v, ok := get("PROMPT"); ok {
		c.Prompt = v
	}
	if v, ok := get("BENCHMARK_CLIENT"); ok {
		c.BenchmarkClient = strings.ToLower(v)
	}
	if v, ok := get("OUTPUT_DIR"); ok {
		c.OutputDir = v
	}
	if v, ok := get("EXCLUDE"); ok {
		c.Exclude = splitList(v)
	}
	if v, ok := get("PROBES"); ok {
		c.Probes = c.Probes[:0]
		for _, p := range splitList(v) {
			c.Probes = append(c.Probes, model.ProbeKind(p))
		}
	}

	if v, ok := get("MAX_TOKENS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_TOKENS: %w", EnvPrefix, err)
		}
		c.MaxTokens = n
	}
	if v, ok := get("PREVIEW_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPREVIEW_LIMIT: %w", EnvPrefix, err)
		}
		c.PreviewLimit = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"REQUEST_TIMEOUT", &c.RequestTimeout},
		{"FIRST_BYTE_TIMEOUT", &c.FirstByteTimeout},
		{"FIRST_EVENT_TIMEOUT", &c.FirstEventTimeout},
		{"HANG_GRACE", &c.HangGrace},
	}
	for _, d := range durations {
		v, ok := get(d.name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

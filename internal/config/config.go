// Package config loads the docstore configuration file.
//
// The file is YAML, lives at <data-dir>/docstore.yaml by default and every
// field is optional. Environment variables prefixed with DOCSTORE_ override
// the file, and command line flags override both.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file inside the data directory.
const FileName = "docstore.yaml"

// Config is the content of docstore.yaml.
type Config struct {
	DataDir      string     `json:"data_dir,omitempty" yaml:"data_dir,omitempty" jsonschema:"description=Root directory of the store"`
	NoLock       bool       `json:"no_lock,omitempty" yaml:"no_lock,omitempty" jsonschema:"description=Disable advisory file locks"`
	HTTP         string     `json:"http,omitempty" yaml:"http,omitempty" jsonschema:"description=Listen address of the HTTP API"`
	LogLevel     string     `json:"log_level,omitempty" yaml:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	RateLimits   RateLimits `json:"rate_limits,omitempty" yaml:"rate_limits,omitempty"`
	MaxBodyBytes int64      `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty" jsonschema:"minimum=1"`
}

// RateLimits configures the HTTP API request budget per client IP.
type RateLimits struct {
	ReadPerMin  int `json:"read_per_min,omitempty" yaml:"read_per_min,omitempty" jsonschema:"minimum=0"`
	WritePerMin int `json:"write_per_min,omitempty" yaml:"write_per_min,omitempty" jsonschema:"minimum=0"`
}

// Validate checks that the rate limits are valid. Zero disables a tier.
func (r *RateLimits) Validate() error {
	if r.ReadPerMin < 0 {
		return errors.New("read_per_min must be non-negative")
	}
	if r.WritePerMin < 0 {
		return errors.New("write_per_min must be non-negative")
	}
	return nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir:  "docstore",
		HTTP:     "localhost:8080",
		LogLevel: "info",
		RateLimits: RateLimits{
			ReadPerMin:  6000,
			WritePerMin: 600,
		},
		MaxBodyBytes: 10 * 1024 * 1024, // 10 MiB
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.HTTP == "" {
		return errors.New("http is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	return nil
}

// Level returns the parsed log_level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// Load reads the configuration at path over the defaults.
//
// A missing file is not an error. Unknown fields are.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		return &cfg, nil
	}
	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)
	if err := d.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// ApplyEnv overlays the DOCSTORE_* environment variables and validates the
// result.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("DOCSTORE_DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv("DOCSTORE_NO_LOCK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOCSTORE_NO_LOCK: %w", err)
		}
		c.NoLock = b
	}
	if v, ok := os.LookupEnv("DOCSTORE_HTTP"); ok {
		c.HTTP = v
	}
	if v, ok := os.LookupEnv("DOCSTORE_LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}
	for name, dst := range map[string]*int{
		"DOCSTORE_READ_PER_MIN":  &c.RateLimits.ReadPerMin,
		"DOCSTORE_WRITE_PER_MIN": &c.RateLimits.WritePerMin,
	} {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}
	if v, ok := os.LookupEnv("DOCSTORE_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DOCSTORE_MAX_BODY_BYTES: %w", err)
		}
		c.MaxBodyBytes = n
	}
	return c.Validate()
}

// Schema returns the JSON Schema describing docstore.yaml.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true, FieldNameTag: "yaml"}
	s := r.Reflect(&Config{})
	s.Title = "docstore configuration"
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

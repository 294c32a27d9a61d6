// Copyright (c) 2025 The Switchboard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mcp-switchboard/switchboard/internal/configstore"
	"github.com/mcp-switchboard/switchboard/internal/logging"
	"github.com/mcp-switchboard/switchboard/internal/util"
)

// FileName is the settings file inside the app directory.
const FileName = "settings.toml"

// DefaultBaseURL is the Together.ai OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.together.xyz/v1"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config holds the non-secret settings. The credential and model preference
// live in the encrypted store, never here.
type Config struct {
	API APIConfig `toml:"api" json:"api"`
	Log LogConfig `toml:"log" json:"log"`
	UI  UIConfig  `toml:"ui" json:"ui"`
}

// APIConfig controls the HTTP client.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API root
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs bounds model listing and the wait for stream headers
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries applies to 429 and 5xx responses before a stream starts
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerSecond is the client-side rate limit (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// LogConfig controls the logger.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `toml:"level" json:"level"`
	// Format is text or json
	Format string `toml:"format" json:"format"`
}

// UIConfig controls terminal output.
type UIConfig struct {
	// RenderMarkdown re-renders completed answers with glamour on a TTY
	RenderMarkdown bool `toml:"render_markdown" json:"render_markdown"`
}

// Timeout returns the request timeout as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           DefaultBaseURL,
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerSecond: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		UI: UIConfig{
			RenderMarkdown: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// AppDir returns the directory shared with the encrypted store.
func AppDir() (string, error) {
	return configstore.DefaultDir()
}

// DefaultPath returns the path to settings.toml.
func DefaultPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads settings from path. A missing file yields the defaults.
// Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically with owner-only permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# switchboard settings\n")
	buf.WriteString("# The API key is stored separately, encrypted. Use 'switchboard config set-key'.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//   - SWITCHBOARD_BASE_URL: overrides api.base_url
//   - SWITCHBOARD_TIMEOUT_SECS: overrides api.timeout_secs
//   - SWITCHBOARD_LOG_LEVEL: overrides log.level
//   - SWITCHBOARD_LOG_FORMAT: overrides log.format
func (c *Config) ApplyEnvOverrides() {
	if base := os.Getenv("SWITCHBOARD_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}

	if secs := os.Getenv("SWITCHBOARD_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			c.API.TimeoutSecs = n
		}
	}

	if level := os.Getenv("SWITCHBOARD_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if format := os.Getenv("SWITCHBOARD_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
}

// SetDefaults fills zero-value fields from Default.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = defaults.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be an absolute http or https URL", c.API.BaseURL),
		})
	}

	if c.API.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "api.timeout_secs",
			Message: fmt.Sprintf("must be positive, got %d", c.API.TimeoutSecs),
		})
	}

	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retries",
			Message: fmt.Sprintf("must be between 0 and 10, got %d", c.API.MaxRetries),
		})
	}

	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.requests_per_second",
			Message: fmt.Sprintf("must not be negative, got %g", c.API.RequestsPerSecond),
		})
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: %s", c.Log.Level, strings.Join(logging.ValidLevels, ", ")),
		})
	}

	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// String returns a string representation of the config for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

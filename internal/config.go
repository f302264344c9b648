package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/perthro/internal/extract"
	"github.com/starford/perthro/internal/filter"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Output     OutputConfig      `yaml:"output"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Extraction ExtractionConfig  `yaml:"extraction"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Output.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Extraction.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// OutputConfig holds the root directory runs extract into.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the ledger database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ExtractionConfig tunes the extraction engine.
//
// Strategies selects which fallbacks run; they always run in the order
// standard, direct_hash, manifest_query whatever order is configured.
type ExtractionConfig struct {
	Workers       int      `yaml:"workers"`
	MinConfidence int      `yaml:"min_confidence"`
	Strategies    []string `yaml:"strategies"`
}

// Validate validates the extraction configuration.
func (c *ExtractionConfig) Validate() error {
	names := make([]any, 0, len(extract.StrategyNames()))
	for _, n := range extract.StrategyNames() {
		names = append(names, n)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.MinConfidence, validation.Min(0), validation.Max(100)),
		validation.Field(&c.Strategies, validation.Each(validation.In(names...))),
	)
}

// ParsedStrategies returns the configured strategies in canonical order.
// An empty list selects every strategy.
func (c *ExtractionConfig) ParsedStrategies() ([]extract.Strategy, error) {
	return extract.ParseStrategies(c.Strategies)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Output: OutputConfig{
			Path: "./cases",
		},
		SQLite: SQLiteConfig{
			Path: "./perthro.db",
		},
		Extraction: ExtractionConfig{
			Workers:       4,
			MinConfidence: filter.DefaultMinConfidence,
			Strategies:    extract.StrategyNames(),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config holds all configuration for the script runtime.
type Config struct {
	ScriptRoot     string        `validate:"required"`
	Languages      []string      `validate:"required,min=1,dive,oneof=go tengo"`
	HotReload      bool
	ReloadDebounce time.Duration `validate:"gte=0"`
	LogFormat      string        `validate:"oneof=text json"`
	LogLevel       string        `validate:"oneof=debug info warn error"`
	InspectAddr    string        `validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ScriptRoot:     "scripts",
		Languages:      []string{"go", "tengo"},
		HotReload:      true,
		ReloadDebounce: 100 * time.Millisecond,
		LogFormat:      "text",
		LogLevel:       "info",
		InspectAddr:    "localhost:8089",
	}
}

// New loads a .env file when present, then reads configuration from
// environment variables on top of the defaults.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a validated config from lookup.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if v, ok := lookup("SCRIPT_ROOT"); ok {
		cfg.ScriptRoot = v
	}
	if v, ok := lookup("SCRIPT_LANGUAGES"); ok {
		cfg.Languages = splitList(v)
	}
	if v, ok := lookup("HOT_RELOAD_SCRIPTS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HOT_RELOAD_SCRIPTS %q: %w", v, err)
		}
		cfg.HotReload = b
	}
	if v, ok := lookup("RELOAD_DEBOUNCE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RELOAD_DEBOUNCE %q: %w", v, err)
		}
		cfg.ReloadDebounce = d
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("INSPECT_ADDR"); ok {
		cfg.InspectAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration's field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

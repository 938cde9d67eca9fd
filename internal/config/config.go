package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	taskpaneSuffix = "/module/formentry/taskpane"
	submitSuffix   = "/moduleServlet/formentry/formUpload"
)

type Config struct {
	ServerURL     string        `mapstructure:"SERVER_URL"`
	Env           string        `mapstructure:"ENV"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	LogFile       string        `mapstructure:"LOG_FILE"`
	SubmitTimeout time.Duration `mapstructure:"SUBMIT_TIMEOUT"`
	SchemaFile    string        `mapstructure:"SCHEMA_FILE"`
	TaskpaneAddr  string        `mapstructure:"TASKPANE_ADDR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("SERVER_URL", "http://localhost:8080/openmrs")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SUBMIT_TIMEOUT", "30s")
	v.SetDefault("TASKPANE_ADDR", "127.0.0.1:8765")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("SERVER_URL")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("LOG_FILE")
	v.BindEnv("SUBMIT_TIMEOUT")
	v.BindEnv("SCHEMA_FILE")
	v.BindEnv("TASKPANE_ADDR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// TaskpaneURL is the base that picker pages are resolved against.
func (c *Config) TaskpaneURL() string {
	return c.ServerURL + taskpaneSuffix
}

// SubmitURL is the form upload endpoint.
func (c *Config) SubmitURL() string {
	return c.ServerURL + submitSuffix
}

// Validate checks that SERVER_URL is an absolute http(s) URL, that the submit
// timeout is positive and that LOG_LEVEL names a zerolog level.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("SERVER_URL is not a valid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return fmt.Errorf("SERVER_URL must be an absolute http or https URL, got %q", c.ServerURL)
	}

	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT must be positive, got %s", c.SubmitTimeout)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level: %w", c.LogLevel, err)
	}
	return nil
}

// Package config loads weave configuration from (lowest to highest
// priority): built-in defaults, an optional weave.jsonc file, a .env file,
// and environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// DefaultFile is the config file looked up in the working directory when
// WEAVE_CONFIG is unset.
const DefaultFile = "weave.jsonc"

// Config holds server and agent settings. Server fields drive `weave serve`;
// the session/agent fields drive `weave agent`.
type Config struct {
	// Server
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`

	// Session address
	ServerURL     string `json:"serverUrl"`
	Mode          string `json:"mode"`
	ApplicationID string `json:"applicationId"`
	PrivacyKey    string `json:"privacyKey"`
	SessionID     string `json:"sessionId"`

	// Agent identity
	AgentID          string `json:"agentId"`
	AgentDescription string `json:"agentDescription"`
	WaitForAgents    int    `json:"waitForAgents"`

	// Reconnect policy
	MaxRetries   int `json:"maxRetries"`
	RetryDelayMS int `json:"retryDelayMs"`
}

// RetryDelay returns the reconnect delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

func defaults() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          5555,
		LogLevel:      "INFO",
		ServerURL:     "http://127.0.0.1:5555",
		Mode:          "devmode",
		ApplicationID: "exampleApplication",
		PrivacyKey:    "privkey",
		SessionID:     "session1",
		WaitForAgents: 1,
		MaxRetries:    3,
		RetryDelayMS:  5000,
	}
}

// Load builds the effective configuration. A missing config file or .env is
// not an error; a present but malformed config file is.
func Load() (*Config, error) {
	cfg := defaults()

	// .env first so file path resolution and env overrides both see it.
	_ = godotenv.Load()

	path := os.Getenv("WEAVE_CONFIG")
	if path == "" {
		path = DefaultFile
	}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadFile merges a JSONC config file into cfg. Missing files are skipped.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies WEAVE_* environment variables, the highest
// priority source.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Host, "WEAVE_HOST")
	setInt(&cfg.Port, "WEAVE_PORT")
	setString(&cfg.LogLevel, "WEAVE_LOG_LEVEL")

	setString(&cfg.ServerURL, "WEAVE_SERVER_URL")
	setString(&cfg.Mode, "WEAVE_MODE")
	setString(&cfg.ApplicationID, "WEAVE_APPLICATION_ID")
	setString(&cfg.PrivacyKey, "WEAVE_PRIVACY_KEY")
	setString(&cfg.SessionID, "WEAVE_SESSION_ID")

	setString(&cfg.AgentID, "WEAVE_AGENT_ID")
	setString(&cfg.AgentDescription, "WEAVE_AGENT_DESCRIPTION")
	setInt(&cfg.WaitForAgents, "WEAVE_WAIT_FOR_AGENTS")

	setInt(&cfg.MaxRetries, "WEAVE_MAX_RETRIES")
	setInt(&cfg.RetryDelayMS, "WEAVE_RETRY_DELAY_MS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

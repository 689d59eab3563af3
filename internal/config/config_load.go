package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Mode: "postgres",
		},
		AI: AIConfig{
			Model:   "gpt-4o-mini",
			APIBase: "https://api.openai.com/v1",
		},
		Campaigns: CampaignsConfig{
			Interval:   "20s",
			BatchLimit: 50,
		},
		Events: EventsConfig{
			Host: "0.0.0.0",
			Port: 18850,
		},
		Humanizer: HumanizerConfig{
			SendRatePerMin: 30,
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error; env vars alone can configure the engine.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets are env-only.
	envStr("ATENDEZAP_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("ATENDEZAP_AI_API_KEY", &c.AI.APIKey)

	envStr("ATENDEZAP_DB_MODE", &c.Database.Mode)
	envStr("ATENDEZAP_AI_MODEL", &c.AI.Model)
	envStr("ATENDEZAP_AI_API_BASE", &c.AI.APIBase)
	if v := os.Getenv("ATENDEZAP_AI_ENABLED"); v != "" {
		c.AI.Enabled = v == "true" || v == "1"
	}
	// Auto-enable the AI responder when a key arrives via env.
	if c.AI.APIKey != "" {
		c.AI.Enabled = true
	}

	envStr("ATENDEZAP_CAMPAIGN_INTERVAL", &c.Campaigns.Interval)
	if v := os.Getenv("ATENDEZAP_CAMPAIGN_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Campaigns.BatchLimit = n
		}
	}

	envStr("ATENDEZAP_EVENTS_HOST", &c.Events.Host)
	if v := os.Getenv("ATENDEZAP_EVENTS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Events.Port = port
		}
	}

	if v := os.Getenv("ATENDEZAP_SEND_RATE_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Humanizer.SendRatePerMin = n
		}
	}

	// Telemetry
	envStr("ATENDEZAP_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ATENDEZAP_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ATENDEZAP_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("ATENDEZAP_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ATENDEZAP_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"`
// and never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

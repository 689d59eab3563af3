package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atendezap/atendezap/internal/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Campaigns.BatchLimit != 50 {
		t.Errorf("batch limit = %d, want 50", cfg.Campaigns.BatchLimit)
	}
	if cfg.Events.Addr() != "0.0.0.0:18850" {
		t.Errorf("events addr = %q", cfg.Events.Addr())
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("ai model = %q", cfg.AI.Model)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := writeConfig(t, `{
		// campaign pacing
		campaigns: { interval: "45s", batch_limit: 10 },
		events: { port: 9000 },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Campaigns.PollInterval() != 45*time.Second {
		t.Errorf("interval = %v", cfg.Campaigns.PollInterval())
	}
	if cfg.Campaigns.BatchLimit != 10 {
		t.Errorf("batch limit = %d", cfg.Campaigns.BatchLimit)
	}
	if cfg.Events.Port != 9000 {
		t.Errorf("port = %d", cfg.Events.Port)
	}
}

func TestEnvOverridesAndSecrets(t *testing.T) {
	t.Setenv("ATENDEZAP_POSTGRES_DSN", "postgres://u:p@localhost/atendezap")
	t.Setenv("ATENDEZAP_AI_API_KEY", "sk-test")
	t.Setenv("ATENDEZAP_CAMPAIGN_BATCH_LIMIT", "7")

	path := writeConfig(t, `{ campaigns: { batch_limit: 99 } }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Database.PostgresDSN != "postgres://u:p@localhost/atendezap" {
		t.Error("DSN not taken from env")
	}
	if cfg.Database.InMemory() {
		t.Error("DSN present must select postgres backend")
	}
	if !cfg.AI.Enabled {
		t.Error("AI key via env must enable the responder")
	}
	if cfg.Campaigns.BatchLimit != 7 {
		t.Errorf("env must beat file: batch limit = %d", cfg.Campaigns.BatchLimit)
	}
}

func TestSecretsNeverPersisted(t *testing.T) {
	cfg := Default()
	cfg.Database.PostgresDSN = "postgres://secret"
	cfg.AI.APIKey = "sk-secret"

	path := filepath.Join(t.TempDir(), "out.json")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"postgres://secret", "sk-secret"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("secret %q leaked into config file", secret)
		}
	}
}

func TestHoursConfigSchedule(t *testing.T) {
	h := HoursConfig{Schedule: map[string]pipeline.Window{
		"monday": {Start: "09:00", End: "18:00"},
	}}
	hours := h.ToHours()

	monday10 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) // a Monday
	monday20 := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)
	tuesday10 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if hours.IsOutsideHours(monday10) {
		t.Error("10h Monday should be attended")
	}
	if !hours.IsOutsideHours(monday20) {
		t.Error("20h Monday should be out of hours")
	}
	if !hours.IsOutsideHours(tuesday10) {
		t.Error("days without a window are closed")
	}
}

func TestHoursConfigEmptyAlwaysOpen(t *testing.T) {
	hours := HoursConfig{}.ToHours()
	if hours.IsOutsideHours(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)) {
		t.Error("empty schedule means always attended")
	}
}

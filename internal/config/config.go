package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atendezap/atendezap/internal/pipeline"
	"github.com/atendezap/atendezap/internal/telemetry"
)

// Config is the root configuration for the atendezap engine.
type Config struct {
	Database  DatabaseConfig   `json:"database,omitempty"`
	AI        AIConfig         `json:"ai,omitempty"`
	Campaigns CampaignsConfig  `json:"campaigns,omitempty"`
	Hours     HoursConfig      `json:"hours,omitempty"`
	Events    EventsConfig     `json:"events,omitempty"`
	Humanizer HumanizerConfig  `json:"humanizer,omitempty"`
	Telemetry telemetry.Config `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is never read from the config file, only from the
// ATENDEZAP_POSTGRES_DSN environment variable.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`              // from env ATENDEZAP_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"` // "postgres" (default) or "memory" for dev
}

// InMemory returns true when the engine should run without Postgres.
func (d DatabaseConfig) InMemory() bool {
	return d.Mode == "memory" || d.PostgresDSN == ""
}

// AIConfig configures the optional AI responder used when no human agent
// and no flow owns a ticket.
// APIKey is env-only (ATENDEZAP_AI_API_KEY), never persisted.
type AIConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	Model        string `json:"model,omitempty"`    // default "gpt-4o-mini"
	APIBase      string `json:"api_base,omitempty"` // OpenAI-compatible endpoint
	APIKey       string `json:"-"`                  // from env ATENDEZAP_AI_API_KEY only
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// CampaignsConfig tunes the campaign dispatcher.
type CampaignsConfig struct {
	Interval   string `json:"interval,omitempty"`    // poll interval, Go duration (default "20s")
	BatchLimit int    `json:"batch_limit,omitempty"` // recipients per pass (default 50)
}

// PollInterval parses Interval with a 20s fallback.
func (c CampaignsConfig) PollInterval() time.Duration {
	if c.Interval != "" {
		if d, err := time.ParseDuration(c.Interval); err == nil && d > 0 {
			return d
		}
	}
	return 20 * time.Second
}

// HoursConfig is the per-weekday attendance table. Keys are lowercase
// English weekday names ("monday".."sunday"). An empty table means
// always attended.
type HoursConfig struct {
	Schedule map[string]pipeline.Window `json:"schedule,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ToHours builds the pipeline business-hours predicate.
func (h HoursConfig) ToHours() pipeline.Hours {
	if len(h.Schedule) == 0 {
		return pipeline.AlwaysOpen{}
	}
	ws := &pipeline.WeekSchedule{Windows: make(map[time.Weekday]pipeline.Window, len(h.Schedule))}
	for name, w := range h.Schedule {
		if day, ok := weekdays[name]; ok {
			ws.Windows[day] = w
		}
	}
	return ws
}

// EventsConfig configures the websocket event feed.
type EventsConfig struct {
	Host string `json:"host,omitempty"` // default "0.0.0.0"
	Port int    `json:"port,omitempty"` // default 18850
}

// Addr returns the listen address with defaults applied.
func (e EventsConfig) Addr() string {
	host := e.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := e.Port
	if port == 0 {
		port = 18850
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// HumanizerConfig tunes outbound pacing.
type HumanizerConfig struct {
	SendRatePerMin int `json:"send_rate_per_min,omitempty"` // global outbound cap (default 30)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Database = src.Database
	c.AI = src.AI
	c.Campaigns = src.Campaigns
	c.Hours = src.Hours
	c.Events = src.Events
	c.Humanizer = src.Humanizer
	c.Telemetry = src.Telemetry
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

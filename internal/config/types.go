package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Brain     *BrainConfig    `json:"brain,omitempty"`
	Reminders RemindersConfig `json:"reminders"`
	Digest    *DigestConfig   `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	GroupLog     string  `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// BrainConfig controls the persistence layer.
//
// Example:
//
//	"brain": { "driver": "file", "path": "./remindbot_brain" }
type BrainConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RemindersConfig controls schedule interpretation and delivery.
type RemindersConfig struct {
	// Timezone is the IANA zone free-text schedules are read in
	// (e.g. "Europe/Amsterdam"). Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	// BrainKey overrides the persistence key for the job snapshot.
	BrainKey string `json:"brain_key,omitempty"`

	Dispatch *DispatchConfig `json:"dispatch,omitempty"`
}

// DispatchConfig tunes the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, runtime defaults apply.
type DispatchConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// DigestConfig controls the optional daily agenda message.
type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// At is the local wall-clock send time, "HH:MM".
	At string `json:"at"`
	// Timezone defaults to reminders.timezone when empty.
	Timezone string  `json:"timezone,omitempty"`
	ChatIDs  []int64 `json:"chat_ids,omitempty"`
}

// Validate catches mistakes that would otherwise surface as confusing
// runtime failures. Called on initial load and before hot-reload commits.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Brain != nil {
		switch strings.TrimSpace(c.Brain.Driver) {
		case "", "file", "sqlite", "memory":
		default:
			return fmt.Errorf("brain.driver: unknown driver %q", c.Brain.Driver)
		}
		if _, err := ParseDurationField("brain.busy_timeout", c.Brain.BusyTimeout); err != nil {
			return err
		}
	}
	if d := c.Reminders.Dispatch; d != nil {
		if _, err := ParseDurationField("reminders.dispatch.retry_base", d.RetryBase); err != nil {
			return err
		}
		if _, err := ParseDurationField("reminders.dispatch.retry_max_delay", d.RetryMaxDelay); err != nil {
			return err
		}
	}
	if dg := c.Digest; dg != nil && dg.Enabled {
		if !validClockSpec(dg.At) {
			return fmt.Errorf("digest.at: want \"HH:MM\", got %q", dg.At)
		}
	}
	return nil
}

func validClockSpec(s string) bool {
	s = strings.TrimSpace(s)
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return false
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

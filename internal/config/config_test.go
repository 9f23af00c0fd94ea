package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc", PollTimeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Telegram.Token = "  " },
			wantErr: "telegram.token",
		},
		{
			name:    "bad poll timeout",
			mutate:  func(c *Config) { c.Telegram.PollTimeout = "heaps" },
			wantErr: "telegram.poll_timeout",
		},
		{
			name:    "unknown brain driver",
			mutate:  func(c *Config) { c.Brain = &BrainConfig{Driver: "redis"} },
			wantErr: "brain.driver",
		},
		{
			name:   "sqlite brain ok",
			mutate: func(c *Config) { c.Brain = &BrainConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "5s"} },
		},
		{
			name: "bad retry base",
			mutate: func(c *Config) {
				c.Reminders.Dispatch = &DispatchConfig{RetryBase: "fast"}
			},
			wantErr: "reminders.dispatch.retry_base",
		},
		{
			name:    "digest bad clock",
			mutate:  func(c *Config) { c.Digest = &DigestConfig{Enabled: true, At: "25:00"} },
			wantErr: "digest.at",
		},
		{
			name:   "digest disabled skips clock check",
			mutate: func(c *Config) { c.Digest = &DigestConfig{Enabled: false, At: "nonsense"} },
		},
		{
			name:   "digest valid clock",
			mutate: func(c *Config) { c.Digest = &DigestConfig{Enabled: true, At: "07:30"} },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
logging:
  level: debug
  console: true
reminders:
  timezone: Europe/Amsterdam
  dispatch:
    workers: 4
    rate_per_sec: 2
digest:
  enabled: true
  at: "08:00"
  chat_ids: [-100123]
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Reminders.Timezone != "Europe/Amsterdam" {
		t.Fatalf("timezone = %q", cfg.Reminders.Timezone)
	}
	if cfg.Reminders.Dispatch == nil || cfg.Reminders.Dispatch.Workers != 4 {
		t.Fatalf("dispatch = %+v", cfg.Reminders.Dispatch)
	}
	if cfg.Digest == nil || !cfg.Digest.Enabled || cfg.Digest.ChatIDs[0] != -100123 {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, "config.yaml", `
telegram:
  token: "123:abc"
remidners:
  timezone: UTC
`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("misspelled section must be rejected")
	}
}

func TestParseJSONPassthrough(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, "config.json",
		`{"telegram":{"token":"123:abc"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"thread_id":0,"min_level":"","rate_per_sec":0}}}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("padded = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative durations must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("unchanged config reports %v", changed)
	}

	// Token changes alone are deliberately invisible (never logged).
	newCfg.Telegram.Token = "456:def"
	changed, _ = SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("token-only change reports %v", changed)
	}

	newCfg = validConfig()
	newCfg.Logging.Level = "debug"
	newCfg.Reminders.Timezone = "Europe/Amsterdam"
	newCfg.Digest = &DigestConfig{Enabled: true, At: "08:00"}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"digest", "logging", "reminders"} {
		if !slices.Contains(changed, want) {
			t.Errorf("changed = %v, missing %q", changed, want)
		}
	}
	if slices.Contains(changed, "telegram") {
		t.Errorf("changed = %v, telegram did not change", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}
}

func TestSubscribeDropOldest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := validConfig()
	second := validConfig()
	second.Logging.Level = "debug"

	m.publish(first)
	m.publish(second) // buffer full: oldest dropped, newest kept

	got := <-ch
	if got != second {
		t.Fatalf("subscriber got %+v, want newest", got.Logging.Level)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra publish: %+v", extra)
	default:
	}
}

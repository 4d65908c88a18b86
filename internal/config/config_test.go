package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("CHAT_ID", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
telegram:
  token: file-token
  chat_id: "424242"
monitor:
  max_targets: 10
  interval_seconds: 30
  notify_cooldown_seconds: 120
  concurrency: 2
renderer:
  max_parallel: 3
  settle_delay_ms: 500
  selectors:
    - selector: "main"
      timeout_ms: 2000
    - selector: "body"
      timeout_ms: 1000
probe:
  enabled: false
activity:
  flush_interval_ms: 500
  postgres_dsn: postgres://watch@localhost/zealy
server:
  port: 9191
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Telegram.Token != "file-token" {
		t.Fatalf("expected token from file, got %q", cfg.Telegram.Token)
	}
	id, err := cfg.Telegram.AuthorizedChatID()
	if err != nil || id != 424242 {
		t.Fatalf("expected chat id 424242, got %d (%v)", id, err)
	}
	if cfg.Monitor.MaxTargets != 10 || cfg.Monitor.Interval() != 30*time.Second {
		t.Fatalf("expected monitor overrides to apply: %+v", cfg.Monitor)
	}
	if cfg.Monitor.NotifyCooldown() != 2*time.Minute {
		t.Fatalf("expected 2m cooldown, got %v", cfg.Monitor.NotifyCooldown())
	}
	rules := cfg.Renderer.SelectorRules()
	if len(rules) != 2 || rules[0].Selector != "main" || rules[1].Timeout != time.Second {
		t.Fatalf("expected selector overrides, got %+v", rules)
	}
	if cfg.Probe.Enabled {
		t.Fatal("expected probe disabled")
	}
	if cfg.Server.Port != 9191 || cfg.Logging.Development {
		t.Fatalf("unexpected server/logging config: %+v %+v", cfg.Server, cfg.Logging)
	}
	if cfg.Activity.FlushInterval() != 500*time.Millisecond || cfg.Activity.CycleTable != "check_cycles" {
		t.Fatalf("unexpected activity config: %+v", cfg.Activity)
	}
	if !cfg.Renderer.Enabled || cfg.Logging.Level != "info" {
		t.Fatalf("expected renderer enabled and info logging by default: %+v %+v", cfg.Renderer, cfg.Logging)
	}
	if cfg.Renderer.PageLoadTimeout() != 12*time.Second {
		t.Fatalf("expected default page load timeout, got %v", cfg.Renderer.PageLoadTimeout())
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("CHAT_ID", "-1001")
	t.Setenv("CHROME_BIN", "/opt/chrome")
	t.Setenv("IS_RENDER", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.Telegram.Token)
	}
	id, err := cfg.Telegram.AuthorizedChatID()
	if err != nil || id != -1001 {
		t.Fatalf("expected chat id -1001, got %d (%v)", id, err)
	}
	if cfg.Renderer.BrowserPath != "/opt/chrome" || !cfg.Renderer.RenderMode {
		t.Fatalf("expected renderer env overrides, got %+v", cfg.Renderer)
	}
	if len(cfg.Renderer.Selectors) != len(DefaultSelectors()) {
		t.Fatalf("expected default selector cascade, got %d", len(cfg.Renderer.Selectors))
	}
	if cfg.Monitor.MaxTargets != 15 || cfg.Monitor.FailureThreshold != 5 {
		t.Fatalf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("CHAT_ID", "")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Fatalf("expected missing token error, got %v", err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("CHAT_ID", "not-a-number")
	_, err = Load("")
	if err == nil || !strings.Contains(err.Error(), "must be an integer") {
		t.Fatalf("expected malformed chat id error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Telegram: TelegramConfig{Token: "t", ChatID: "1", PollTimeoutSeconds: 60, CommandWorkers: 2},
		Monitor: MonitorConfig{
			MaxTargets:       15,
			IntervalSeconds:  20,
			FailureThreshold: 5,
			WarningThreshold: 3,
			Concurrency:      1,
			URLPattern:       DefaultURLPattern,
		},
		Renderer: RendererConfig{
			MaxParallel:      2,
			PageLoadTimeoutS: 12,
			MaxAttempts:      2,
			MinContentLength: 10,
			Selectors:        DefaultSelectors(),
		},
		Notifier: NotifierConfig{MaxAttempts: 3, MaxLength: 4096},
		Server:   ServerConfig{Enabled: true, Port: 9090},
		Activity: ActivityConfig{BufferSize: 64, MaxBatchEvents: 10, FlushIntervalMs: 100},
		Logging:  LoggingConfig{Level: "info"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"missing chat", func(c *Config) { c.Telegram.ChatID = "" }, "telegram.chat_id"},
		{"bad chat", func(c *Config) { c.Telegram.ChatID = "12ab" }, "integer"},
		{"capacity", func(c *Config) { c.Monitor.MaxTargets = 0 }, "monitor.max_targets"},
		{"interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }, "monitor.interval_seconds"},
		{"warning above failure", func(c *Config) { c.Monitor.WarningThreshold = 5 }, "monitor.warning_threshold"},
		{"concurrency", func(c *Config) { c.Monitor.Concurrency = 4 }, "monitor.concurrency"},
		{"url pattern", func(c *Config) { c.Monitor.URLPattern = "(" }, "monitor.url_pattern"},
		{"max parallel", func(c *Config) { c.Renderer.MaxParallel = 5 }, "renderer.max_parallel"},
		{"no selectors", func(c *Config) { c.Renderer.Selectors = nil }, "renderer.selectors"},
		{"bad selector", func(c *Config) {
			c.Renderer.Selectors = []SelectorConfig{{Selector: "main"}}
		}, "renderer.selectors[0]"},
		{"notifier length", func(c *Config) { c.Notifier.MaxLength = 5000 }, "notifier.max_length"},
		{"server port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"activity buffer", func(c *Config) { c.Activity.BufferSize = 0 }, "activity.buffer_size"},
		{"activity flush", func(c *Config) { c.Activity.FlushIntervalMs = 0 }, "activity.flush_interval_ms"},
		{"activity tables", func(c *Config) {
			c.Activity.PostgresDSN = "postgres://localhost/zealy"
			c.Activity.CycleTable = ""
		}, "activity.cycle_table"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Renderer.Selectors = append([]SelectorConfig(nil), base.Renderer.Selectors...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveBrowser(t *testing.T) {
	origExists, origLook := fileExists, lookPath
	t.Cleanup(func() { fileExists, lookPath = origExists, origLook })

	present := map[string]bool{}
	fileExists = func(p string) bool { return present[p] }
	lookPath = func(name string) (string, error) {
		if name == "google-chrome" {
			return "/custom/bin/google-chrome", nil
		}
		return "", errors.New("not found")
	}

	if got := (RendererConfig{BrowserPath: "/explicit"}).ResolveBrowser(); got != "/explicit" {
		t.Fatalf("expected explicit override, got %q", got)
	}
	if got := (RendererConfig{}).ResolveBrowser(); got != "/custom/bin/google-chrome" {
		t.Fatalf("expected PATH lookup, got %q", got)
	}

	present[RenderBrowserPath] = true
	if got := (RendererConfig{RenderMode: true}).ResolveBrowser(); got != RenderBrowserPath {
		t.Fatalf("expected render path, got %q", got)
	}

	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	present = map[string]bool{}
	if got := (RendererConfig{}).ResolveBrowser(); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestFetchBudgetCoversEveryStage(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Renderer: RendererConfig{
			PageLoadTimeoutS: 12,
			SettleDelayMs:    2000,
			ReadTimeoutMs:    5000,
			MaxAttempts:      2,
			BackoffBaseMs:    3000,
			BackoffMaxMs:     30000,
			Selectors:        DefaultSelectors(),
		},
		Probe: ProbeConfig{Enabled: true, TimeoutSeconds: 8},
	}

	// probe 8s + navigation 12s + six selectors at 8s + settle 2s + read 5s
	require.Equal(t, 75*time.Second, cfg.AttemptBudget())
	// two attempts and one 3s backoff
	require.Equal(t, 153*time.Second, cfg.FetchBudget())

	cfg.Probe.Enabled = false
	require.Equal(t, 67*time.Second, cfg.AttemptBudget())
}

func TestFetchBudgetCapsBackoff(t *testing.T) {
	t.Parallel()

	cfg := Config{Renderer: RendererConfig{
		MaxAttempts:   4,
		BackoffBaseMs: 20000,
		BackoffMaxMs:  30000,
	}}
	// Only the 5s read default remains per attempt.
	require.Equal(t, 4*5*time.Second+(20+30+30)*time.Second, cfg.FetchBudget())
}

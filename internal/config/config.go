// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/zealywatch/internal/monitor"
)

// DefaultURLPattern accepts Zealy community pages.
const DefaultURLPattern = `^https://(www\.)?zealy\.io/cw/[\w/-]+$`

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Renderer RendererConfig `mapstructure:"renderer"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Server   ServerConfig   `mapstructure:"server"`
	Activity ActivityConfig `mapstructure:"activity"`
	Instance InstanceConfig `mapstructure:"instance"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds bot credentials and the single authorized chat.
type TelegramConfig struct {
	Token              string `mapstructure:"token"`
	ChatID             string `mapstructure:"chat_id"`
	PollTimeoutSeconds int    `mapstructure:"poll_timeout_seconds"`
	CommandWorkers     int    `mapstructure:"command_workers"`
}

// MonitorConfig governs the check loop and per-target policy.
type MonitorConfig struct {
	MaxTargets            int    `mapstructure:"max_targets"`
	IntervalSeconds       int    `mapstructure:"interval_seconds"`
	MinSleepMs            int    `mapstructure:"min_sleep_ms"`
	ErrorCooldownSeconds  int    `mapstructure:"error_cooldown_seconds"`
	NotifyCooldownSeconds int    `mapstructure:"notify_cooldown_seconds"`
	FailureThreshold      int    `mapstructure:"failure_threshold"`
	WarningThreshold      int    `mapstructure:"warning_threshold"`
	WarningCooldownSec    int    `mapstructure:"warning_cooldown_seconds"`
	Concurrency           int    `mapstructure:"concurrency"`
	URLPattern            string `mapstructure:"url_pattern"`
}

// RendererConfig configures headless extraction and the retry budget.
type RendererConfig struct {
	Enabled           bool             `mapstructure:"enabled"`
	BrowserPath       string           `mapstructure:"browser_path"`
	DriverPath        string           `mapstructure:"driver_path"`
	RenderMode        bool             `mapstructure:"render_mode"`
	MaxParallel       int              `mapstructure:"max_parallel"`
	PageLoadTimeoutS  int              `mapstructure:"page_load_timeout_seconds"`
	SettleDelayMs     int              `mapstructure:"settle_delay_ms"`
	ReadTimeoutMs     int              `mapstructure:"read_timeout_ms"`
	MaxAttempts       int              `mapstructure:"max_attempts"`
	BackoffBaseMs     int              `mapstructure:"backoff_base_ms"`
	BackoffMaxMs      int              `mapstructure:"backoff_max_ms"`
	UserAgent         string           `mapstructure:"user_agent"`
	RequestsPerSecond float64          `mapstructure:"requests_per_second"`
	MinContentLength  int              `mapstructure:"min_content_length"`
	Selectors         []SelectorConfig `mapstructure:"selectors"`
}

// SelectorConfig is one entry of the container cascade.
type SelectorConfig struct {
	Selector  string `mapstructure:"selector"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// ProbeConfig controls the lightweight HTTP check tried before the browser.
type ProbeConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MinChars          int     `mapstructure:"min_chars"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// NotifierConfig controls delivery retries.
type NotifierConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	MaxLength     int `mapstructure:"max_length"`
}

// ServerConfig controls the health and metrics HTTP side-port.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// ActivityConfig configures the activity event stream and its optional
// Postgres history table.
type ActivityConfig struct {
	BufferSize      int    `mapstructure:"buffer_size"`
	MaxBatchEvents  int    `mapstructure:"max_batch_events"`
	FlushIntervalMs int    `mapstructure:"flush_interval_ms"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	Table           string `mapstructure:"table"`
	CycleTable      string `mapstructure:"cycle_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
}

// InstanceConfig controls the single-process lock.
type InstanceConfig struct {
	LockFile string `mapstructure:"lock_file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps config keys to the environment names operators already use.
var legacyEnv = map[string]string{
	"telegram.token":        "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":      "CHAT_ID",
	"renderer.browser_path": "CHROME_BIN",
	"renderer.driver_path":  "CHROME_DRIVER",
	"renderer.render_mode":  "IS_RENDER",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZEALYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "ZEALYWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultSelectors is the container cascade used when none is configured,
// most specific first.
func DefaultSelectors() []SelectorConfig {
	return []SelectorConfig{
		{Selector: "div.flex.flex-col.w-full.pt-100", TimeoutMs: 8000},
		{Selector: "div[class*='flex'][class*='flex-col']", TimeoutMs: 8000},
		{Selector: "div[class*='questboard']", TimeoutMs: 8000},
		{Selector: "main", TimeoutMs: 8000},
		{Selector: "div[id*='content']", TimeoutMs: 8000},
		{Selector: "body", TimeoutMs: 8000},
	}
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.poll_timeout_seconds", 60)
	v.SetDefault("telegram.command_workers", 4)
	v.SetDefault("monitor.max_targets", 15)
	v.SetDefault("monitor.interval_seconds", 20)
	v.SetDefault("monitor.min_sleep_ms", 1000)
	v.SetDefault("monitor.error_cooldown_seconds", 10)
	v.SetDefault("monitor.notify_cooldown_seconds", 90)
	v.SetDefault("monitor.failure_threshold", 5)
	v.SetDefault("monitor.warning_threshold", 3)
	v.SetDefault("monitor.warning_cooldown_seconds", 600)
	v.SetDefault("monitor.concurrency", 1)
	v.SetDefault("monitor.url_pattern", DefaultURLPattern)
	v.SetDefault("renderer.enabled", true)
	v.SetDefault("renderer.browser_path", "")
	v.SetDefault("renderer.driver_path", "")
	v.SetDefault("renderer.render_mode", false)
	v.SetDefault("renderer.max_parallel", 2)
	v.SetDefault("renderer.page_load_timeout_seconds", 12)
	v.SetDefault("renderer.settle_delay_ms", 2000)
	v.SetDefault("renderer.read_timeout_ms", 5000)
	v.SetDefault("renderer.max_attempts", 2)
	v.SetDefault("renderer.backoff_base_ms", 3000)
	v.SetDefault("renderer.backoff_max_ms", 30000)
	v.SetDefault("renderer.user_agent", defaultUserAgent)
	v.SetDefault("renderer.requests_per_second", 1.0)
	v.SetDefault("renderer.min_content_length", 10)
	selectors := make([]map[string]any, 0, len(DefaultSelectors()))
	for _, s := range DefaultSelectors() {
		selectors = append(selectors, map[string]any{"selector": s.Selector, "timeout_ms": s.TimeoutMs})
	}
	v.SetDefault("renderer.selectors", selectors)
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.timeout_seconds", 8)
	v.SetDefault("probe.min_chars", 20)
	v.SetDefault("probe.user_agent", defaultUserAgent)
	v.SetDefault("probe.requests_per_second", 2.0)
	v.SetDefault("notifier.max_attempts", 3)
	v.SetDefault("notifier.backoff_base_ms", 1000)
	v.SetDefault("notifier.max_length", 4096)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.api_key", "")
	v.SetDefault("activity.buffer_size", 1024)
	v.SetDefault("activity.max_batch_events", 50)
	v.SetDefault("activity.flush_interval_ms", 2000)
	v.SetDefault("activity.postgres_dsn", "")
	v.SetDefault("activity.table", "check_events")
	v.SetDefault("activity.cycle_table", "check_cycles")
	v.SetDefault("activity.max_conns", 4)
	v.SetDefault("instance.lock_file", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token must be set (TELEGRAM_BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Telegram.ChatID) == "" {
		return fmt.Errorf("telegram.chat_id must be set (CHAT_ID)")
	}
	if _, err := c.Telegram.AuthorizedChatID(); err != nil {
		return err
	}
	if c.Telegram.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("telegram.poll_timeout_seconds must be > 0")
	}
	if c.Telegram.CommandWorkers <= 0 {
		return fmt.Errorf("telegram.command_workers must be > 0")
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Renderer.validate(); err != nil {
		return err
	}
	if c.Probe.Enabled && c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0 when the probe is enabled")
	}
	if c.Notifier.MaxAttempts <= 0 {
		return fmt.Errorf("notifier.max_attempts must be > 0")
	}
	if c.Notifier.MaxLength <= 0 || c.Notifier.MaxLength > 4096 {
		return fmt.Errorf("notifier.max_length must be between 1 and 4096")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Activity.BufferSize <= 0 || c.Activity.MaxBatchEvents <= 0 {
		return fmt.Errorf("activity.buffer_size and activity.max_batch_events must be > 0")
	}
	if c.Activity.FlushIntervalMs <= 0 {
		return fmt.Errorf("activity.flush_interval_ms must be > 0")
	}
	if c.Activity.PostgresDSN != "" && (c.Activity.Table == "" || c.Activity.CycleTable == "") {
		return fmt.Errorf("activity.table and activity.cycle_table must be set when activity.postgres_dsn is")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); c.Logging.Level != "" && err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (m MonitorConfig) validate() error {
	if m.MaxTargets <= 0 || m.MaxTargets > 50 {
		return fmt.Errorf("monitor.max_targets must be between 1 and 50")
	}
	if m.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be > 0")
	}
	if m.MinSleepMs < 0 {
		return fmt.Errorf("monitor.min_sleep_ms must be >= 0")
	}
	if m.FailureThreshold <= 0 {
		return fmt.Errorf("monitor.failure_threshold must be > 0")
	}
	if m.WarningThreshold < 0 || m.WarningThreshold >= m.FailureThreshold {
		return fmt.Errorf("monitor.warning_threshold must be >= 0 and below monitor.failure_threshold")
	}
	if m.Concurrency <= 0 || m.Concurrency > 3 {
		return fmt.Errorf("monitor.concurrency must be between 1 and 3")
	}
	if _, err := regexp.Compile(m.URLPattern); err != nil {
		return fmt.Errorf("monitor.url_pattern: %w", err)
	}
	return nil
}

func (r RendererConfig) validate() error {
	if r.MaxParallel <= 0 || r.MaxParallel > 3 {
		return fmt.Errorf("renderer.max_parallel must be between 1 and 3")
	}
	if r.PageLoadTimeoutS <= 0 {
		return fmt.Errorf("renderer.page_load_timeout_seconds must be > 0")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("renderer.max_attempts must be > 0")
	}
	if r.MinContentLength <= 0 {
		return fmt.Errorf("renderer.min_content_length must be > 0")
	}
	if len(r.Selectors) == 0 {
		return fmt.Errorf("renderer.selectors must list at least one selector")
	}
	for i, s := range r.Selectors {
		if strings.TrimSpace(s.Selector) == "" || s.TimeoutMs <= 0 {
			return fmt.Errorf("renderer.selectors[%d] needs a selector and timeout_ms > 0", i)
		}
	}
	return nil
}

// AuthorizedChatID parses the configured chat identifier.
func (t TelegramConfig) AuthorizedChatID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(t.ChatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.chat_id must be an integer, got %q", t.ChatID)
	}
	return id, nil
}

// Interval returns the target cycle length.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// MinSleep returns the floor applied to the inter-cycle sleep.
func (m MonitorConfig) MinSleep() time.Duration {
	return time.Duration(m.MinSleepMs) * time.Millisecond
}

// ErrorCooldown returns the pause after a cycle-level failure.
func (m MonitorConfig) ErrorCooldown() time.Duration {
	return time.Duration(m.ErrorCooldownSeconds) * time.Second
}

// NotifyCooldown returns the minimum gap between change alerts per target.
func (m MonitorConfig) NotifyCooldown() time.Duration {
	return time.Duration(m.NotifyCooldownSeconds) * time.Second
}

// WarningCooldown returns the minimum gap between failure warnings per target.
func (m MonitorConfig) WarningCooldown() time.Duration {
	return time.Duration(m.WarningCooldownSec) * time.Second
}

// PageLoadTimeout returns the hard navigation timeout.
func (r RendererConfig) PageLoadTimeout() time.Duration {
	return time.Duration(r.PageLoadTimeoutS) * time.Second
}

// SettleDelay returns the pause before reading text.
func (r RendererConfig) SettleDelay() time.Duration {
	return time.Duration(r.SettleDelayMs) * time.Millisecond
}

// ReadTimeout bounds reading the container text once it is located.
func (r RendererConfig) ReadTimeout() time.Duration {
	if r.ReadTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}

// BackoffBase returns the first retry delay.
func (r RendererConfig) BackoffBase() time.Duration {
	return time.Duration(r.BackoffBaseMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (r RendererConfig) BackoffMax() time.Duration {
	return time.Duration(r.BackoffMaxMs) * time.Millisecond
}

// SelectorRules converts the configured cascade into monitor rules.
func (r RendererConfig) SelectorRules() []monitor.SelectorRule {
	rules := make([]monitor.SelectorRule, 0, len(r.Selectors))
	for _, s := range r.Selectors {
		rules = append(rules, monitor.SelectorRule{
			Selector: s.Selector,
			Timeout:  time.Duration(s.TimeoutMs) * time.Millisecond,
		})
	}
	return rules
}

// Timeout returns the probe request timeout.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AttemptBudget is the longest one fetch attempt can take when every stage
// runs to its timeout: the probe, navigation, every selector wait, the
// settle delay and the text read.
func (c Config) AttemptBudget() time.Duration {
	budget := c.Renderer.PageLoadTimeout() + c.Renderer.SettleDelay() + c.Renderer.ReadTimeout()
	for _, rule := range c.Renderer.SelectorRules() {
		budget += rule.Timeout
	}
	if c.Probe.Enabled {
		budget += c.Probe.Timeout()
	}
	return budget
}

// FetchBudget is the worst case for a full fetch: every attempt exhausting
// its budget plus the backoff between attempts.
func (c Config) FetchBudget() time.Duration {
	attempts := max(c.Renderer.MaxAttempts, 1)
	budget := time.Duration(attempts) * c.AttemptBudget()
	for i := 0; i < attempts-1; i++ {
		delay := c.Renderer.BackoffBase() << i
		if maxDelay := c.Renderer.BackoffMax(); maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
		budget += delay
	}
	return budget
}

// FlushInterval returns how often buffered activity events are flushed.
func (a ActivityConfig) FlushInterval() time.Duration {
	return time.Duration(a.FlushIntervalMs) * time.Millisecond
}

// BackoffBase returns the first delivery retry delay.
func (n NotifierConfig) BackoffBase() time.Duration {
	return time.Duration(n.BackoffBaseMs) * time.Millisecond
}

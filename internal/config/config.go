// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	CronSecret    string
	DatabasePath  string
	LogLevel      string
	ListenAddr    string
	LiveGuard     time.Duration
	VoteStabilize time.Duration
	PushTTL       time.Duration
	EntityPause   time.Duration
	Schedule      string

	Feeds    FeedsConfig
	Push     PushConfig
	Telegram TelegramConfig
	OTel     OTelConfig
}

// FeedsConfig locates the snapshot providers.
type FeedsConfig struct {
	LiveURL     string
	VoteURL     string
	VideoURL    string
	VideoFormat string // "json" or "atom"
	HTTPTimeout time.Duration
	CacheTTL    time.Duration
}

// PushConfig locates the push gateway.
type PushConfig struct {
	GatewayURL string
	GatewayKey string
}

// TelegramConfig enables operator cycle reports.
type TelegramConfig struct {
	BotToken    string
	AlertChatID int64
}

// Enabled reports whether both the bot token and the chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.AlertChatID != 0
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

// fileConfig is the YAML layout of FEEDPUSH_CONFIG.
type fileConfig struct {
	CronSecret           string `yaml:"cron_secret"`
	DatabasePath         string `yaml:"database_path"`
	LogLevel             string `yaml:"log_level"`
	ListenAddr           string `yaml:"listen_addr"`
	LiveDupGuardMinutes  *int   `yaml:"live_dup_guard_minutes"`
	VoteStabilizeMinutes *int   `yaml:"vote_stabilize_minutes"`
	PushTTLSeconds       *int   `yaml:"push_ttl_seconds"`
	EntityPause          string `yaml:"entity_pause"`
	Schedule             string `yaml:"schedule"`
	Feeds                struct {
		LiveURL     string `yaml:"live_url"`
		VoteURL     string `yaml:"vote_url"`
		VideoURL    string `yaml:"video_url"`
		VideoFormat string `yaml:"video_format"`
		HTTPTimeout string `yaml:"http_timeout"`
		CacheTTL    string `yaml:"cache_ttl"`
	} `yaml:"feeds"`
	Push struct {
		GatewayURL string `yaml:"gateway_url"`
		GatewayKey string `yaml:"gateway_key"`
	} `yaml:"push"`
	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		AlertChatID int64  `yaml:"alert_chat_id"`
	} `yaml:"telegram"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		DatabasePath:  "./data/feedpush.db",
		LogLevel:      "info",
		ListenAddr:    ":8080",
		LiveGuard:     90 * time.Minute,
		VoteStabilize: time.Minute,
		PushTTL:       86400 * time.Second,
		EntityPause:   1500 * time.Millisecond,
		Feeds: FeedsConfig{
			VideoFormat: "json",
			HTTPTimeout: 15 * time.Second,
		},
		OTel: OTelConfig{
			ServiceName: "feedpush",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Load reads configuration from the YAML file named by FEEDPUSH_CONFIG, if any,
// and then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := envString("FEEDPUSH_CONFIG", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireDelivery checks the settings needed to send notifications.
func (c *Config) RequireDelivery() error {
	if c.Push.GatewayURL == "" {
		return errors.New("PUSH_GATEWAY_URL is required")
	}
	return nil
}

func (c *Config) applyYAML(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	setString(&c.CronSecret, f.CronSecret)
	setString(&c.DatabasePath, f.DatabasePath)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.ListenAddr, f.ListenAddr)
	setString(&c.Schedule, f.Schedule)
	if f.LiveDupGuardMinutes != nil {
		c.LiveGuard = time.Duration(*f.LiveDupGuardMinutes) * time.Minute
	}
	if f.VoteStabilizeMinutes != nil {
		c.VoteStabilize = time.Duration(*f.VoteStabilizeMinutes) * time.Minute
	}
	if f.PushTTLSeconds != nil {
		c.PushTTL = time.Duration(*f.PushTTLSeconds) * time.Second
	}

	setString(&c.Feeds.LiveURL, f.Feeds.LiveURL)
	setString(&c.Feeds.VoteURL, f.Feeds.VoteURL)
	setString(&c.Feeds.VideoURL, f.Feeds.VideoURL)
	setString(&c.Feeds.VideoFormat, strings.ToLower(f.Feeds.VideoFormat))
	setString(&c.Push.GatewayURL, f.Push.GatewayURL)
	setString(&c.Push.GatewayKey, f.Push.GatewayKey)
	setString(&c.Telegram.BotToken, f.Telegram.BotToken)
	if f.Telegram.AlertChatID != 0 {
		c.Telegram.AlertChatID = f.Telegram.AlertChatID
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"entity_pause", f.EntityPause, &c.EntityPause},
		{"feeds.http_timeout", f.Feeds.HTTPTimeout, &c.Feeds.HTTPTimeout},
		{"feeds.cache_ttl", f.Feeds.CacheTTL, &c.Feeds.CacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.CronSecret, envString("CRON_SECRET", ""))
	setString(&c.DatabasePath, envString("DATABASE_PATH", ""))
	setString(&c.LogLevel, envString("LOG_LEVEL", ""))
	setString(&c.ListenAddr, envString("LISTEN_ADDR", ""))
	setString(&c.Schedule, envString("SCHEDULE", ""))
	setString(&c.Feeds.LiveURL, envString("LIVE_FEED_URL", ""))
	setString(&c.Feeds.VoteURL, envString("VOTE_FEED_URL", ""))
	setString(&c.Feeds.VideoURL, envString("VIDEO_FEED_URL", ""))
	setString(&c.Feeds.VideoFormat, strings.ToLower(envString("VIDEO_FEED_FORMAT", "")))
	setString(&c.Push.GatewayURL, envString("PUSH_GATEWAY_URL", ""))
	setString(&c.Push.GatewayKey, envString("PUSH_GATEWAY_KEY", ""))
	setString(&c.Telegram.BotToken, envString("TELEGRAM_BOT_TOKEN", ""))

	var err error
	if c.LiveGuard, err = envUnits("LIVE_DUP_GUARD_MINUTES", time.Minute, c.LiveGuard); err != nil {
		return err
	}
	if c.VoteStabilize, err = envUnits("VOTE_STABILIZE_MINUTES", time.Minute, c.VoteStabilize); err != nil {
		return err
	}
	if c.PushTTL, err = envUnits("PUSH_TTL_SECONDS", time.Second, c.PushTTL); err != nil {
		return err
	}
	if c.EntityPause, err = envDuration("ENTITY_PAUSE", c.EntityPause); err != nil {
		return err
	}
	if c.Feeds.HTTPTimeout, err = envDuration("FEED_HTTP_TIMEOUT", c.Feeds.HTTPTimeout); err != nil {
		return err
	}
	if c.Feeds.CacheTTL, err = envDuration("FEED_CACHE_TTL", c.Feeds.CacheTTL); err != nil {
		return err
	}
	if raw := envString("TELEGRAM_ALERT_CHAT_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_ALERT_CHAT_ID %q: %w", raw, err)
		}
		c.Telegram.AlertChatID = id
	}

	endpoint := envString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	otel := OTelConfig{
		ServiceName: envString("OTEL_SERVICE_NAME", c.OTel.ServiceName),
		Endpoint:    endpoint,
		Protocol:    strings.ToLower(envString("OTEL_EXPORTER_OTLP_PROTOCOL", c.OTel.Protocol)),
		Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
	}
	if otel.Enabled, err = envBool("OTEL_ENABLED", c.OTel.Enabled); err != nil {
		return err
	}
	if otel.Insecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(endpoint)); err != nil {
		return err
	}
	if otel.SampleRatio, err = envFloat("OTEL_TRACES_SAMPLE_RATIO", c.OTel.SampleRatio); err != nil {
		return err
	}
	otel.SampleRatio = clamp01(otel.SampleRatio)
	c.OTel = otel
	return nil
}

func (c *Config) validate() error {
	switch c.Feeds.VideoFormat {
	case "json", "atom":
	default:
		return fmt.Errorf("invalid VIDEO_FEED_FORMAT %q: want json or atom", c.Feeds.VideoFormat)
	}
	if c.LiveGuard < 0 || c.VoteStabilize < 0 || c.EntityPause < 0 {
		return errors.New("policy windows must not be negative")
	}
	if c.PushTTL <= 0 {
		return errors.New("PUSH_TTL_SECONDS must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s %q: want true or false", key, v)
	}
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

// envUnits reads an integer count of unit.
func envUnits(key string, unit, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return time.Duration(n) * unit, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}

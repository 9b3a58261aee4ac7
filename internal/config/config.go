// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/tradegate/internal/alerting"
	"github.com/tathienbao/tradegate/internal/api"
	"github.com/tathienbao/tradegate/internal/gateway/ctp"
	"github.com/tathienbao/tradegate/internal/gateway/ctp/bridge"
	"github.com/tathienbao/tradegate/internal/gateway/ctp/sim"
	"github.com/tathienbao/tradegate/internal/logging"
	"github.com/tathienbao/tradegate/internal/metrics"
	"github.com/tathienbao/tradegate/internal/types"
	"gopkg.in/yaml.v3"
)

// Front kinds.
const (
	FrontSim    = "sim"
	FrontBridge = "bridge"
)

// Config represents the full application configuration.
type Config struct {
	Logging     LoggingConfig             `yaml:"logging"`
	Metrics     MetricsConfig             `yaml:"metrics"`
	Persistence PersistenceConfig         `yaml:"persistence"`
	Alerting    AlertingConfig            `yaml:"alerting"`
	API         APIConfig                 `yaml:"api"`
	Gateway     GatewayConfig             `yaml:"gateway"`
	Shutdown    ShutdownConfig            `yaml:"shutdown"`
	Platforms   map[string]PlatformConfig `yaml:"platforms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Console    *bool  `yaml:"console"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// PersistenceConfig holds session journal settings.
type PersistenceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Path                string `yaml:"path"`
	SnapshotIntervalSec int    `yaml:"snapshot_interval_sec"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Host            string  `yaml:"host"`
	Port            int     `yaml:"port"`
	Token           string  `yaml:"token"`
	RateLimit       float64 `yaml:"rate_limit"`
	RateBurst       int     `yaml:"rate_burst"`
	WriteTimeoutSec int     `yaml:"write_timeout_sec"`
}

// GatewayConfig holds CTP session settings and the front it talks to.
type GatewayConfig struct {
	ReadinessTimeoutSec int     `yaml:"readiness_timeout_sec"`
	PollIntervalMs      int     `yaml:"poll_interval_ms"`
	QueryTimeoutSec     int     `yaml:"query_timeout_sec"`
	QueryRate           float64 `yaml:"query_rate"`
	QueryBurst          int     `yaml:"query_burst"`
	Exchange            string  `yaml:"exchange"`
	QueueSize           int     `yaml:"queue_size"`

	Front  string       `yaml:"front"` // sim | bridge
	Bridge BridgeConfig `yaml:"bridge"`
	Sim    SimConfig    `yaml:"sim"`
}

// BridgeConfig holds CTP bridge connection settings.
type BridgeConfig struct {
	URL                  string `yaml:"url"`
	HandshakeTimeoutSec  int    `yaml:"handshake_timeout_sec"`
	ReadTimeoutSec       int    `yaml:"read_timeout_sec"`
	PingIntervalSec      int    `yaml:"ping_interval_sec"`
	MaxRequestsPerSecond int    `yaml:"max_requests_per_second"`
	AutoReconnect        *bool  `yaml:"auto_reconnect"`
	ReconnectIntervalSec int    `yaml:"reconnect_interval_sec"`
	MaxReconnectTries    int    `yaml:"max_reconnect_tries"`
}

// SimConfig holds simulated front settings.
type SimConfig struct {
	AccountID      string  `yaml:"account_id"`
	InitialBalance float64 `yaml:"initial_balance"`
	Multiplier     int64   `yaml:"multiplier"`
	MarginRate     float64 `yaml:"margin_rate"`
	FillDelayMs    int     `yaml:"fill_delay_ms"`
	TickIntervalMs int     `yaml:"tick_interval_ms"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// PlatformConfig holds the default connection settings of one platform and
// its named accounts.
type PlatformConfig struct {
	types.ConnectionSettings `yaml:",inline"`
	Accounts                 map[string]AccountConfig `yaml:"accounts"`
}

// AccountConfig overrides platform defaults for one named account.
type AccountConfig struct {
	types.ConnectionSettings `yaml:",inline"`
	Enabled                  bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = metrics.DefaultServerConfig().Port
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = metrics.DefaultServerConfig().MetricsPath
	}
	if c.API.Host == "" {
		c.API.Host = api.DefaultConfig().Host
	}
	if c.API.Port == 0 {
		c.API.Port = api.DefaultConfig().Port
	}
	if c.Gateway.Front == "" {
		c.Gateway.Front = FrontSim
	}
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30
	}

	// Platform names are case-insensitive.
	if len(c.Platforms) > 0 {
		platforms := make(map[string]PlatformConfig, len(c.Platforms))
		for name, p := range c.Platforms {
			platforms[strings.ToLower(name)] = p
		}
		c.Platforms = platforms
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Logging validation
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level must be one of debug, info, warn, error")
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, "logging.format must be 'text' or 'json'")
	}

	// Servers
	if c.Metrics.Enabled && !validPort(c.Metrics.Port) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}
	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, "api.rate_limit must not be negative")
	}

	// Persistence validation
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}
	if c.Persistence.SnapshotIntervalSec < 0 {
		errs = append(errs, "persistence.snapshot_interval_sec must not be negative")
	}

	// Alerting validation
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			case "console":
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: type must be 'telegram' or 'console'", i))
			}
		}
	}

	// Gateway validation
	g := c.Gateway
	if g.ReadinessTimeoutSec < 0 || g.PollIntervalMs < 0 || g.QueryTimeoutSec < 0 || g.QueueSize < 0 {
		errs = append(errs, "gateway timeouts and sizes must not be negative")
	}
	if g.QueryRate < 0 || g.QueryBurst < 0 {
		errs = append(errs, "gateway.query_rate and gateway.query_burst must not be negative")
	}
	switch g.Front {
	case FrontSim:
		if g.Sim.InitialBalance < 0 || g.Sim.MarginRate < 0 || g.Sim.MarginRate > 1 {
			errs = append(errs, "gateway.sim: initial_balance must not be negative and margin_rate must be between 0 and 1")
		}
	case FrontBridge:
		if g.Bridge.URL == "" {
			errs = append(errs, "gateway.bridge.url is required for the bridge front")
		} else if u, err := url.Parse(g.Bridge.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, "gateway.bridge.url must be a ws:// or wss:// URL")
		}
	default:
		errs = append(errs, "gateway.front must be 'sim' or 'bridge'")
	}

	// Platforms validation
	if len(c.Platforms) == 0 {
		errs = append(errs, "at least one platform must be configured")
	}
	for name, p := range c.Platforms {
		for account := range p.Accounts {
			if strings.TrimSpace(account) == "" {
				errs = append(errs, fmt.Sprintf("platforms.%s: account names must not be blank", name))
			}
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// ResolveAccount merges the platform defaults with the named account's
// overrides, account values taking precedence. A blank password is filled
// from <PLATFORM>_PASSWORD.
func (c *Config) ResolveAccount(platform, account string) (types.ConnectionSettings, error) {
	key := strings.ToLower(strings.TrimSpace(platform))
	p, ok := c.Platforms[key]
	if !ok {
		return types.ConnectionSettings{}, fmt.Errorf("%w: platform %q is not configured", types.ErrNotFound, platform)
	}
	acct, ok := p.Accounts[account]
	if !ok {
		return types.ConnectionSettings{}, fmt.Errorf("%w: account %q does not exist on platform %s", types.ErrNotFound, account, key)
	}

	settings := acct.ConnectionSettings.Merge(p.ConnectionSettings)
	if settings.Password == "" {
		settings.Password = os.Getenv(strings.ToUpper(key) + "_PASSWORD")
	}

	return settings, nil
}

// EnabledAccounts returns the sorted names of the platform's enabled accounts.
func (c *Config) EnabledAccounts(platform string) []string {
	p, ok := c.Platforms[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil
	}

	var names []string
	for name, acct := range p.Accounts {
		if acct.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// PlatformNames returns the configured platforms in sorted order.
func (c *Config) PlatformNames() []string {
	names := make([]string, 0, len(c.Platforms))
	for name := range c.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToLoggingConfig converts to logging.Config.
func (c *Config) ToLoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	if c.Logging.Console != nil {
		lc.Console = *c.Logging.Console
	}
	lc.FilePath = c.Logging.File
	if c.Logging.MaxSizeMB > 0 {
		lc.MaxSizeMB = c.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups > 0 {
		lc.MaxBackups = c.Logging.MaxBackups
	}
	if c.Logging.MaxAgeDays > 0 {
		lc.MaxAgeDays = c.Logging.MaxAgeDays
	}
	lc.Compress = c.Logging.Compress
	return lc
}

// ToCTPConfig converts to ctp.Config. Zero fields take the session defaults.
func (c *Config) ToCTPConfig() ctp.Config {
	g := c.Gateway
	return ctp.Config{
		ReadinessTimeout: time.Duration(g.ReadinessTimeoutSec) * time.Second,
		PollInterval:     time.Duration(g.PollIntervalMs) * time.Millisecond,
		QueryTimeout:     time.Duration(g.QueryTimeoutSec) * time.Second,
		QueryRate:        g.QueryRate,
		QueryBurst:       g.QueryBurst,
		Exchange:         g.Exchange,
		QueueSize:        g.QueueSize,
	}
}

// ToBridgeConfig converts to bridge.Config. The request timeout follows the
// gateway query timeout.
func (c *Config) ToBridgeConfig() bridge.Config {
	b := c.Gateway.Bridge
	cfg := bridge.DefaultConfig()
	cfg.URL = b.URL
	if c.Gateway.QueryTimeoutSec > 0 {
		cfg.RequestTimeout = time.Duration(c.Gateway.QueryTimeoutSec) * time.Second
	}
	if b.HandshakeTimeoutSec > 0 {
		cfg.HandshakeTimeout = time.Duration(b.HandshakeTimeoutSec) * time.Second
	}
	if b.ReadTimeoutSec > 0 {
		cfg.ReadTimeout = time.Duration(b.ReadTimeoutSec) * time.Second
	}
	if b.PingIntervalSec > 0 {
		cfg.PingInterval = time.Duration(b.PingIntervalSec) * time.Second
	}
	if b.MaxRequestsPerSecond > 0 {
		cfg.MaxRequestsPerSecond = b.MaxRequestsPerSecond
	}
	if b.AutoReconnect != nil {
		cfg.AutoReconnect = *b.AutoReconnect
	}
	if b.ReconnectIntervalSec > 0 {
		cfg.ReconnectInterval = time.Duration(b.ReconnectIntervalSec) * time.Second
	}
	if b.MaxReconnectTries > 0 {
		cfg.MaxReconnectTries = b.MaxReconnectTries
	}
	return cfg
}

// ToSimConfig converts to sim.Config.
func (c *Config) ToSimConfig() sim.Config {
	s := c.Gateway.Sim
	cfg := sim.DefaultConfig()
	if s.AccountID != "" {
		cfg.AccountID = s.AccountID
	}
	if s.InitialBalance > 0 {
		cfg.InitialBalance = decimal.NewFromFloat(s.InitialBalance)
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	if s.MarginRate > 0 {
		cfg.MarginRate = decimal.NewFromFloat(s.MarginRate)
	}
	if s.FillDelayMs > 0 {
		cfg.FillDelay = time.Duration(s.FillDelayMs) * time.Millisecond
	}
	cfg.TickInterval = time.Duration(s.TickIntervalMs) * time.Millisecond
	return cfg
}

// ToAPIConfig converts to api.Config.
func (c *Config) ToAPIConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.Host = c.API.Host
	cfg.Port = c.API.Port
	cfg.Token = c.API.Token
	if c.API.RateLimit > 0 {
		cfg.RateLimit = c.API.RateLimit
	}
	if c.API.RateBurst > 0 {
		cfg.RateBurst = c.API.RateBurst
	}
	if c.API.WriteTimeoutSec > 0 {
		cfg.WriteTimeout = time.Duration(c.API.WriteTimeoutSec) * time.Second
	}
	return cfg
}

// ToMetricsConfig converts to metrics.ServerConfig.
func (c *Config) ToMetricsConfig() metrics.ServerConfig {
	cfg := metrics.DefaultServerConfig()
	cfg.Host = c.Metrics.Host
	cfg.Port = c.Metrics.Port
	cfg.MetricsPath = c.Metrics.Path
	return cfg
}

// TelegramConfig returns the first telegram channel, if any.
func (c *Config) TelegramConfig() (alerting.TelegramConfig, bool) {
	for _, ch := range c.Alerting.Channels {
		if ch.Type == "telegram" {
			return alerting.TelegramConfig{BotToken: ch.BotToken, ChatID: ch.ChatID}, true
		}
	}
	return alerting.TelegramConfig{}, false
}

// SnapshotInterval returns the account snapshot interval; zero disables snapshots.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Persistence.SnapshotIntervalSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event alerting.AlertEvent) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == string(event) || e == "all" {
			return true
		}
	}
	return false
}

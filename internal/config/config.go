package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gmsas95/pillminder/internal/errors"
)

// Config holds all configuration for Pillminder
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Channels   ChannelsConfig   `mapstructure:"channels"`
	Log        LogConfig        `mapstructure:"log"`

	path string
	v    *viper.Viper
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	// ActionsPerSecond bounds dose actions so rapid repeated taps cannot race.
	ActionsPerSecond float64 `mapstructure:"actions_per_second"`
	ActionBurst      int     `mapstructure:"action_burst"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
	InMemory   bool   `mapstructure:"in_memory"`
}

// NotifyConfig holds reminder provider settings
type NotifyConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timezone    string        `mapstructure:"timezone"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// EscalationConfig holds the skip/postpone policy
type EscalationConfig struct {
	Threshold     int           `mapstructure:"threshold"`
	PostponeDelay time.Duration `mapstructure:"postpone_delay"`
	SkipFollowUp  time.Duration `mapstructure:"skip_follow_up"`
}

// AlertConfig holds caretaker alert transport settings
type AlertConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RelayEnabled bool          `mapstructure:"relay_enabled"`
	SMTP         SMTPConfig    `mapstructure:"smtp"`
}

// SMTPConfig holds relay mail settings. Empty credentials mean simulated sends.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Configured reports whether real mail can be sent.
func (s SMTPConfig) Configured() bool {
	return s.User != "" && s.Password != ""
}

// ScanConfig holds the prescription OCR service settings
type ScanConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ProfileConfig seeds the stored profile on first start
type ProfileConfig struct {
	Name           string `mapstructure:"name"`
	Email          string `mapstructure:"email"`
	CaretakerEmail string `mapstructure:"caretaker_email"`
}

// ChannelsConfig holds delivery channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	BotToken  string  `mapstructure:"bot_token"`
	ChatID    int64   `mapstructure:"chat_id"`
	AllowList []int64 `mapstructure:"allow_list"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "pillminder.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "pillminder.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// PILLMINDER_SERVER_PORT, PILLMINDER_ALERT_ENDPOINT, ...
	v.SetEnvPrefix("PILLMINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.path = configPath
	cfg.v = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.actions_per_second", 5.0)
	v.SetDefault("server.action_burst", 10)

	v.SetDefault("storage.driver", "badger")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.timezone", "Local")
	v.SetDefault("notify.call_timeout", 5*time.Second)

	v.SetDefault("escalation.threshold", 3)
	v.SetDefault("escalation.postpone_delay", 10*time.Minute)
	v.SetDefault("escalation.skip_follow_up", time.Duration(0))

	v.SetDefault("alert.endpoint", "http://127.0.0.1:5000")
	v.SetDefault("alert.timeout", 8*time.Second)
	v.SetDefault("alert.relay_enabled", false)
	v.SetDefault("alert.smtp.host", "smtp.gmail.com")
	v.SetDefault("alert.smtp.port", 587)

	v.SetDefault("scan.endpoint", "http://127.0.0.1:5000")
	v.SetDefault("scan.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pillminder")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "pillminder")
}

// loadEnvOverrides fills settings that are commonly exported under their
// conventional names rather than the prefixed ones.
func loadEnvOverrides(cfg *Config) {
	cfg.Channels.Telegram.BotToken = firstNonEmpty(cfg.Channels.Telegram.BotToken, ResolveEnvWithAliases("PILLMINDER_CHANNELS_TELEGRAM_BOT_TOKEN"))
	cfg.Channels.Discord.Token = firstNonEmpty(cfg.Channels.Discord.Token, ResolveEnvWithAliases("PILLMINDER_CHANNELS_DISCORD_TOKEN"))
	cfg.Alert.SMTP.Host = firstNonEmpty(ResolveEnvWithAliases("PILLMINDER_ALERT_SMTP_HOST"), cfg.Alert.SMTP.Host)
	cfg.Alert.SMTP.User = firstNonEmpty(cfg.Alert.SMTP.User, ResolveEnvWithAliases("PILLMINDER_ALERT_SMTP_USER"))
	cfg.Alert.SMTP.Password = firstNonEmpty(cfg.Alert.SMTP.Password, ResolveEnvWithAliases("PILLMINDER_ALERT_SMTP_PASSWORD"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "badger", "sqlite":
	default:
		return errors.New(errors.CodeConfigInvalid, fmt.Sprintf("storage.driver must be badger or sqlite, got %q", cfg.Storage.Driver))
	}

	if _, err := cfg.Location(); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "notify.timezone is not a known zone")
	}

	if cfg.Escalation.Threshold < 1 {
		return errors.New(errors.CodeConfigInvalid, "escalation.threshold must be at least 1")
	}
	if cfg.Escalation.PostponeDelay <= 0 {
		return errors.New(errors.CodeConfigInvalid, "escalation.postpone_delay must be positive")
	}
	if cfg.Notify.CallTimeout <= 0 {
		return errors.New(errors.CodeConfigInvalid, "notify.call_timeout must be positive")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return errors.New(errors.CodeConfigInvalid, "channels.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && (cfg.Channels.Discord.Token == "" || cfg.Channels.Discord.ChannelID == "") {
		return errors.New(errors.CodeConfigInvalid, "channels.discord.token and channel_id are required when discord is enabled")
	}

	return nil
}

// Location resolves notify.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Notify.Timezone == "" || c.Notify.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Notify.Timezone)
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// BaseURL is where the CLI reaches a running server.
func (c *Config) BaseURL() string {
	host := c.Server.Address
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// Path is the config file in use, whether or not it exists.
func (c *Config) Path() string {
	return c.path
}

var watchMu sync.Mutex

// Watch re-reads the config file on change and hands the decoded result to fn.
// Invalid edits are dropped and reported through onErr.
func (c *Config) Watch(fn func(*Config), onErr func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		watchMu.Lock()
		defer watchMu.Unlock()

		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		next.path = c.path
		next.v = c.v
		fn(next)
	})
	c.v.WatchConfig()
}

// Package config handles lifeops configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, LIFEOPS_* environment variables and bound command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantumlife/lifeops/internal/logging"
)

// EnvPrefix is prepended to every environment override (LIFEOPS_SERVER_PORT).
const EnvPrefix = "LIFEOPS"

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `mapstructure:"data_dir"`

	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Commands  CommandsConfig  `mapstructure:"commands"`
	Signing   SigningConfig   `mapstructure:"signing"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Proactive ProactiveConfig `mapstructure:"proactive"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	Host        string   `mapstructure:"host"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig for the SQLite database
type StorageConfig struct {
	InMemory bool `mapstructure:"in_memory"`
}

// BridgeConfig for live projection push
type BridgeConfig struct {
	ClientBuffer int           `mapstructure:"client_buffer"`
	Heartbeat    time.Duration `mapstructure:"heartbeat"`
}

// RedisConfig for the cross-instance relay. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Channel  string `mapstructure:"channel"`
}

// RulesConfig for extra rule definitions
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// CommandsConfig for admission control on command submission
type CommandsConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// SigningConfig for impact plan signatures
type SigningConfig struct {
	KeyFile    string `mapstructure:"key_file"`
	Passphrase string `mapstructure:"passphrase"`
}

// TelemetryConfig for OTLP metrics. Empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// LoggingConfig for the process logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SchedulerConfig for background tasks
type SchedulerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	VerifyInterval time.Duration `mapstructure:"verify_interval"`
	ReceiptTTL     time.Duration `mapstructure:"receipt_ttl"`
}

// ProactiveConfig for nudge delivery
type ProactiveConfig struct {
	QuietHoursStart int `mapstructure:"quiet_hours_start"`
	QuietHoursEnd   int `mapstructure:"quiet_hours_end"`
}

// defaults is the single source of default values; keys are viper paths.
func defaults() map[string]interface{} {
	home, _ := os.UserHomeDir()

	return map[string]interface{}{
		"data_dir":                    filepath.Join(home, ".lifeops"),
		"server.port":                 8080,
		"server.host":                 "localhost",
		"server.cors_origins":         []string{"*"},
		"storage.in_memory":           false,
		"bridge.client_buffer":        16,
		"bridge.heartbeat":            25 * time.Second,
		"redis.addr":                  "",
		"redis.password":              "",
		"redis.channel":               "lifeops:bridge",
		"rules.file":                  "",
		"commands.rate":               5.0,
		"commands.burst":              10,
		"signing.key_file":            "",
		"signing.passphrase":          "",
		"telemetry.otlp_endpoint":     "",
		"telemetry.service_name":      "lifeopsd",
		"logging.level":               "info",
		"logging.format":              "text",
		"scheduler.sweep_interval":    15 * time.Minute,
		"scheduler.verify_interval":   time.Hour,
		"scheduler.receipt_ttl":       7 * 24 * time.Hour,
		"proactive.quiet_hours_start": 22,
		"proactive.quiet_hours_end":   7,
	}
}

// NewViper returns a viper instance with defaults and environment binding
// applied. Callers may bind flags to it before calling LoadWith.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns default configuration
func Default() *Config {
	cfg, err := decode(NewViper())
	if err != nil {
		// defaults are static; a decode failure is a programming error
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return cfg
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith reads path (or <data_dir>/config.yaml when empty) into v and
// decodes the merged result. A missing file is not an error.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(v.GetString("data_dir"), "config.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Bridge.ClientBuffer <= 0 {
		return fmt.Errorf("bridge.client_buffer must be positive")
	}
	if c.Bridge.Heartbeat <= 0 {
		return fmt.Errorf("bridge.heartbeat must be positive")
	}
	if c.Commands.Rate <= 0 || c.Commands.Burst <= 0 {
		return fmt.Errorf("commands.rate and commands.burst must be positive")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Proactive.QuietHoursStart < 0 || c.Proactive.QuietHoursStart > 23 ||
		c.Proactive.QuietHoursEnd < 0 || c.Proactive.QuietHoursEnd > 23 {
		return fmt.Errorf("proactive quiet hours must be within 0-23")
	}
	return nil
}

// DatabasePath is where the SQLite file lives
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "lifeops.db")
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.yaml")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	v := viper.New()
	for k, val := range c.settings() {
		v.Set(k, val)
	}
	return v.WriteConfigAs(path)
}

// settings flattens the config to viper keys. The signing passphrase and
// redis password are never written to disk.
func (c *Config) settings() map[string]interface{} {
	return map[string]interface{}{
		"data_dir":                    c.DataDir,
		"server.port":                 c.Server.Port,
		"server.host":                 c.Server.Host,
		"server.cors_origins":         c.Server.CORSOrigins,
		"storage.in_memory":           c.Storage.InMemory,
		"bridge.client_buffer":        c.Bridge.ClientBuffer,
		"bridge.heartbeat":            c.Bridge.Heartbeat.String(),
		"redis.addr":                  c.Redis.Addr,
		"redis.channel":               c.Redis.Channel,
		"rules.file":                  c.Rules.File,
		"commands.rate":               c.Commands.Rate,
		"commands.burst":              c.Commands.Burst,
		"signing.key_file":            c.Signing.KeyFile,
		"telemetry.otlp_endpoint":     c.Telemetry.OTLPEndpoint,
		"telemetry.service_name":      c.Telemetry.ServiceName,
		"logging.level":               c.Logging.Level,
		"logging.format":              c.Logging.Format,
		"scheduler.sweep_interval":    c.Scheduler.SweepInterval.String(),
		"scheduler.verify_interval":   c.Scheduler.VerifyInterval.String(),
		"scheduler.receipt_ttl":       c.Scheduler.ReceiptTTL.String(),
		"proactive.quiet_hours_start": c.Proactive.QuietHoursStart,
		"proactive.quiet_hours_end":   c.Proactive.QuietHoursEnd,
	}
}

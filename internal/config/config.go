// Copyright 2025 James Ross
// Package config loads and validates the daemon's own configuration:
// where plugins live, how the reactor is sized, and how the remote console
// and permission defaults are set up. Shape and loader follow the teacher's
// viper-based config package; the settings themselves are this daemon's own.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Plugin describes where plugin files live and how they're discovered.
type Plugin struct {
	Folders        []string      `mapstructure:"folders"`
	Binary         string        `mapstructure:"binary"`
	BinaryArgs     []string      `mapstructure:"binary_args"`
	HotReload      bool          `mapstructure:"hot_reload"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
}

// Reactor sizes the event queue and worker pool.
type Reactor struct {
	QueueSize           int           `mapstructure:"queue_size"`
	WorkerCount         int           `mapstructure:"worker_count"`
	QueueFullWarnPeriod time.Duration `mapstructure:"queue_full_warn_period"`
	ShutdownDrain       time.Duration `mapstructure:"shutdown_drain"`
}

// RCON configures the remote-console side channel.
type RCON struct {
	Enabled         bool          `mapstructure:"enabled"`
	Address         string        `mapstructure:"address"`
	Password        string        `mapstructure:"password"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ReconnectWindow time.Duration `mapstructure:"reconnect_window"`
}

// Server names the game server child process the daemon wraps. The byte
// format of its stdin/stdout stream is an external collaborator (spec
// non-goal); the daemon only needs to know how to start it. Command may be
// left empty to run the daemon without a child process attached (log-only
// IOPump), useful for admin CLI invocations.
type Server struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// Permission holds the default permission level assigned to sources with no
// explicit entry in the permission file, and console's fixed level.
type Permission struct {
	DefaultLevel string `mapstructure:"default_level"`
	ConsoleLevel string `mapstructure:"console_level"`
}

// Observability configures the metrics/health HTTP surface and logging.
type Observability struct {
	MetricsPort   int    `mapstructure:"metrics_port"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// Config is the daemon's full configuration.
type Config struct {
	Plugin        Plugin        `mapstructure:"plugin"`
	Server        Server        `mapstructure:"server"`
	Reactor       Reactor       `mapstructure:"reactor"`
	RCON          RCON          `mapstructure:"rcon"`
	Permission    Permission    `mapstructure:"permission"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Plugin: Plugin{
			Folders:        []string{"./plugins"},
			Binary:         "",
			HotReload:      true,
			ReloadDebounce: 500 * time.Millisecond,
			LoadTimeout:    10 * time.Second,
		},
		Server: Server{
			Command: "",
		},
		Reactor: Reactor{
			QueueSize:           4096,
			WorkerCount:         4,
			QueueFullWarnPeriod: 10 * time.Second,
			ShutdownDrain:       5 * time.Second,
		},
		RCON: RCON{
			Enabled:         false,
			Address:         "127.0.0.1:25575",
			ConnectTimeout:  5 * time.Second,
			ReconnectWindow: 30 * time.Second,
		},
		Permission: Permission{
			DefaultLevel: "guest",
			ConsoleLevel: "owner",
		},
		Observability: Observability{
			MetricsPort:   9091,
			LogLevel:      "info",
			LogFile:       "",
			LogMaxSizeMB:  50,
			LogMaxBackups: 5,
			LogMaxAgeDays: 14,
		},
	}
}

// Load reads configuration from a YAML file with environment overrides, the
// way the teacher's own config.Load does: defaults are seeded on a fresh
// viper.Viper, the file (if present) is layered on top, then env vars with
// "." replaced by "_" take final precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("plugin.folders", def.Plugin.Folders)
	v.SetDefault("plugin.binary", def.Plugin.Binary)
	v.SetDefault("plugin.binary_args", def.Plugin.BinaryArgs)
	v.SetDefault("plugin.hot_reload", def.Plugin.HotReload)
	v.SetDefault("plugin.reload_debounce", def.Plugin.ReloadDebounce)
	v.SetDefault("plugin.load_timeout", def.Plugin.LoadTimeout)

	v.SetDefault("server.command", def.Server.Command)
	v.SetDefault("server.args", def.Server.Args)

	v.SetDefault("reactor.queue_size", def.Reactor.QueueSize)
	v.SetDefault("reactor.worker_count", def.Reactor.WorkerCount)
	v.SetDefault("reactor.queue_full_warn_period", def.Reactor.QueueFullWarnPeriod)
	v.SetDefault("reactor.shutdown_drain", def.Reactor.ShutdownDrain)

	v.SetDefault("rcon.enabled", def.RCON.Enabled)
	v.SetDefault("rcon.address", def.RCON.Address)
	v.SetDefault("rcon.connect_timeout", def.RCON.ConnectTimeout)
	v.SetDefault("rcon.reconnect_window", def.RCON.ReconnectWindow)

	v.SetDefault("permission.default_level", def.Permission.DefaultLevel)
	v.SetDefault("permission.console_level", def.Permission.ConsoleLevel)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_file", def.Observability.LogFile)
	v.SetDefault("observability.log_max_size_mb", def.Observability.LogMaxSizeMB)
	v.SetDefault("observability.log_max_backups", def.Observability.LogMaxBackups)
	v.SetDefault("observability.log_max_age_days", def.Observability.LogMaxAgeDays)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects structurally invalid settings before the daemon starts.
func Validate(cfg *Config) error {
	if len(cfg.Plugin.Folders) == 0 {
		return fmt.Errorf("plugin.folders must be non-empty")
	}
	if cfg.Plugin.Binary == "" {
		return fmt.Errorf("plugin.binary must be set")
	}
	if cfg.Reactor.QueueSize < 1 {
		return fmt.Errorf("reactor.queue_size must be >= 1")
	}
	if cfg.Reactor.WorkerCount < 1 {
		return fmt.Errorf("reactor.worker_count must be >= 1")
	}
	if cfg.Reactor.QueueFullWarnPeriod <= 0 {
		return fmt.Errorf("reactor.queue_full_warn_period must be > 0")
	}
	if cfg.RCON.Enabled && cfg.RCON.Address == "" {
		return fmt.Errorf("rcon.address must be set when rcon.enabled is true")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}

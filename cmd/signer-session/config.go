package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/TripleSpeeder/frame/pkg/connection"
	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/session"
	"github.com/TripleSpeeder/frame/pkg/simdevice"
)

// Config holds the command configuration. File values are overridden by
// flags given on the command line.
type Config struct {
	ConfigFile string `yaml:"-" toml:"-"`

	// Simulated devices
	Devices    int           `yaml:"devices" toml:"devices"`
	Mnemonic   string        `yaml:"mnemonic" toml:"mnemonic"`
	AppVersion string        `yaml:"app_version" toml:"app_version"`
	Latency    time.Duration `yaml:"latency" toml:"latency"`

	// Session settings
	Derivation         string        `yaml:"derivation" toml:"derivation"`
	AccountLimit       int           `yaml:"account_limit" toml:"account_limit"`
	AddressTimeout     time.Duration `yaml:"address_timeout" toml:"address_timeout"`
	AppConfigTimeout   time.Duration `yaml:"app_config_timeout" toml:"app_config_timeout"`
	OKPollInterval     time.Duration `yaml:"ok_poll_interval" toml:"ok_poll_interval"`
	LockedPollInterval time.Duration `yaml:"locked_poll_interval" toml:"locked_poll_interval"`

	// Registry settings
	MaxReconnectAttempts int                      `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	Backoff              connection.BackoffConfig `yaml:"backoff" toml:"backoff"`

	// Output
	LogLevel    string `yaml:"log_level" toml:"log_level"`
	LogFormat   string `yaml:"log_format" toml:"log_format"`
	EventLog    string `yaml:"event_log" toml:"event_log"`
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
	Interactive bool   `yaml:"interactive" toml:"interactive"`
}

func defaultConfig() Config {
	sc := session.DefaultConfig()
	return Config{
		Devices:            1,
		Mnemonic:           simdevice.DefaultMnemonic,
		AppVersion:         simdevice.DefaultVersion,
		Derivation:         sc.Derivation.String(),
		AccountLimit:       sc.AccountLimit,
		AddressTimeout:     sc.AddressTimeout,
		AppConfigTimeout:   sc.AppConfigTimeout,
		OKPollInterval:     sc.OKPollInterval,
		LockedPollInterval: sc.LockedPollInterval,
		Backoff:            connection.DefaultBackoffConfig(),
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Configuration file path (.yaml, .yml or .toml)")
	fs.IntVar(&cfg.Devices, "devices", cfg.Devices, "Number of simulated devices")
	fs.StringVar(&cfg.Mnemonic, "mnemonic", cfg.Mnemonic, "Mnemonic of the simulated devices")
	fs.StringVar(&cfg.AppVersion, "app-version", cfg.AppVersion, "Signing app version reported by the simulated devices")
	fs.DurationVar(&cfg.Latency, "latency", cfg.Latency, "Simulated device latency per call")
	fs.StringVar(&cfg.Derivation, "derivation", cfg.Derivation, "Derivation: live, legacy, standard")
	fs.IntVar(&cfg.AccountLimit, "accounts", cfg.AccountLimit, "Number of addresses to derive")
	fs.DurationVar(&cfg.AddressTimeout, "address-timeout", cfg.AddressTimeout, "Timeout for address fetches and probes")
	fs.DurationVar(&cfg.AppConfigTimeout, "app-config-timeout", cfg.AppConfigTimeout, "Timeout for app configuration reads")
	fs.DurationVar(&cfg.OKPollInterval, "ok-poll", cfg.OKPollInterval, "Probe interval while OK")
	fs.DurationVar(&cfg.LockedPollInterval, "locked-poll", cfg.LockedPollInterval, "Probe interval while LOCKED")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect", cfg.MaxReconnectAttempts, "Reopen attempts after a lost session (0 = unbounded)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text, json")
	fs.StringVar(&cfg.EventLog, "event-log", cfg.EventLog, "Write session events to this CBOR log file")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9102)")
	fs.BoolVar(&cfg.Interactive, "interactive", cfg.Interactive, "Enable interactive command mode")
}

// loadConfig builds the configuration from defaults, the optional config
// file and the command line flags, in that order of precedence.
func loadConfig(args []string) (Config, error) {
	cfg := defaultConfig()

	// First pass only locates the config file.
	probe := cfg
	pre := flag.NewFlagSet("signer-session", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	bindFlags(pre, &probe)
	// Errors are reported by the second pass.
	_ = pre.Parse(args)

	if probe.ConfigFile != "" {
		if err := loadFile(probe.ConfigFile, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = probe.ConfigFile
	}

	fs := flag.NewFlagSet("signer-session", flag.ContinueOnError)
	bindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes path into cfg, picking the format from its extension.
func loadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
}

func (cfg *Config) normalize() {
	cfg.Derivation = strings.ToLower(strings.TrimSpace(cfg.Derivation))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.Mnemonic = strings.Join(strings.Fields(cfg.Mnemonic), " ")
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

func (cfg *Config) validate() error {
	if cfg.Devices < 1 {
		return fmt.Errorf("devices must be at least 1, got %d", cfg.Devices)
	}
	if cfg.Mnemonic == "" {
		return fmt.Errorf("mnemonic is required")
	}
	if _, err := derivation.ParseKind(cfg.Derivation); err != nil {
		return err
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	sc := cfg.sessionConfig()
	sc.Provider = simdevice.NewProvider()
	sc.AppFactory = simdevice.NewApp
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("session settings: %w", err)
	}
	return nil
}

// sessionConfig returns the session template without provider and
// instrumentation.
func (cfg *Config) sessionConfig() session.Config {
	sc := session.DefaultConfig()
	if kind, err := derivation.ParseKind(cfg.Derivation); err == nil {
		sc.Derivation = kind
	}
	sc.AccountLimit = cfg.AccountLimit
	sc.AddressTimeout = cfg.AddressTimeout
	sc.AppConfigTimeout = cfg.AppConfigTimeout
	sc.OKPollInterval = cfg.OKPollInterval
	sc.LockedPollInterval = cfg.LockedPollInterval
	return sc
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	AppName = "honeymirror"

	DefaultListenAddr         = "0.0.0.0"
	DefaultListenPort         = 2222
	DefaultCapacity           = 10
	DefaultAuthStrategy       = AuthAcceptAny
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultConnectionTimeout  = 5 * time.Minute
	DefaultAuthRejectionDelay = 3 * time.Second
	DefaultMaxAuthTries       = 6
	DefaultQueueDepth         = 256

	EnvLogLevel           = "HONEYMIRROR_LOG_LEVEL"
	EnvConfigDir          = "HONEYMIRROR_CONFIG_DIR"
	EnvListenAddr         = "HONEYMIRROR_LISTEN_ADDR"
	EnvListenPort         = "HONEYMIRROR_LISTEN_PORT"
	EnvCapacity           = "HONEYMIRROR_CAPACITY"
	EnvAuthStrategy       = "HONEYMIRROR_AUTH_STRATEGY"
	EnvHostKeyPath        = "HONEYMIRROR_HOST_KEY"
	EnvConnectionTimeout  = "HONEYMIRROR_CONNECTION_TIMEOUT"
	EnvAuthRejectionDelay = "HONEYMIRROR_AUTH_REJECTION_DELAY"
	EnvMetricsAddr        = "HONEYMIRROR_METRICS_ADDR"
)

type Config struct {
	ConfigDir string
	LogLevel  slog.Level

	ListenAddr   string
	ListenPort   int
	Capacity     int
	AuthStrategy AuthStrategy
	HostKeyPath  string

	HandshakeTimeout   time.Duration
	ConnectionTimeout  time.Duration // idle timeout, zero disables
	AuthRejectionDelay time.Duration
	MaxAuthTries       int

	// QueueDepth bounds the number of pending writes per channel handle.
	QueueDepth int
	// BroadcastRate limits broadcast bytes per second per session, zero is unlimited.
	BroadcastRate  float64
	BroadcastBurst int

	MetricsAddr string

	// Only consulted by the allow-list strategy.
	AllowedPasswords map[string]string   `json:",omitempty"` // username -> password
	AuthorizedKeys   map[string][]string `json:",omitempty"` // username -> authorized_keys lines

	Help bool `json:"-"`
}

func NewDefaultConfig() *Config {
	configDir, _ := UserConfigDir()
	return &Config{
		ConfigDir:          configDir,
		LogLevel:           slog.LevelInfo,
		ListenAddr:         DefaultListenAddr,
		ListenPort:         DefaultListenPort,
		Capacity:           DefaultCapacity,
		AuthStrategy:       DefaultAuthStrategy,
		HandshakeTimeout:   DefaultHandshakeTimeout,
		ConnectionTimeout:  DefaultConnectionTimeout,
		AuthRejectionDelay: DefaultAuthRejectionDelay,
		MaxAuthTries:       DefaultMaxAuthTries,
		QueueDepth:         DefaultQueueDepth,
	}
}

func (c *Config) Load(configDir string) error {
	*c = *NewDefaultConfig()
	if configDir == "" {
		configDir, _ = UserConfigDir()
	}
	if configDir == "" {
		return fmt.Errorf("failed to determine config directory")
	}
	c.ConfigDir = configDir
	if err := EnsureDir(c.ConfigDir); err != nil {
		return fmt.Errorf("failed to ensure config dir: %w", err)
	}
	cfgPath := filepath.Join(c.ConfigDir, "config.json")
	if cfgFileInfo, err := os.Stat(cfgPath); err == nil && cfgFileInfo.IsDir() {
		return fmt.Errorf("config file path is a directory")
	} else if err == nil {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err = json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := c.Save(); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("failed to stat config path: %w", err)
	}

	return c.loadEnv()
}

// Save writes the config to disk
func (c *Config) Save() error {
	if c.ConfigDir == "" {
		return fmt.Errorf("config directory not set")
	}

	if err := EnsureDir(c.ConfigDir); err != nil {
		return fmt.Errorf("failed to ensure config dir: %w", err)
	}

	cfgPath := filepath.Join(c.ConfigDir, "config.json")
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = os.WriteFile(cfgPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) loadEnv() error {
	if configDir := os.Getenv(EnvConfigDir); configDir != "" {
		c.ConfigDir = configDir
	}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		c.ListenAddr = addr
	}
	if port := os.Getenv(EnvListenPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid value for ListenPort: %s", port)
		}
		c.ListenPort = p
	}
	if capacity := os.Getenv(EnvCapacity); capacity != "" {
		n, err := strconv.Atoi(capacity)
		if err != nil {
			return fmt.Errorf("invalid value for Capacity: %s", capacity)
		}
		c.Capacity = n
	}
	if strategy := os.Getenv(EnvAuthStrategy); strategy != "" {
		if err := c.AuthStrategy.Set(strategy); err != nil {
			return fmt.Errorf("invalid value for AuthStrategy: %w", err)
		}
	}
	if hostKey := os.Getenv(EnvHostKeyPath); hostKey != "" {
		c.HostKeyPath = hostKey
	}
	if timeout := os.Getenv(EnvConnectionTimeout); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid value for ConnectionTimeout: %s", timeout)
		}
		c.ConnectionTimeout = d
	}
	if delay := os.Getenv(EnvAuthRejectionDelay); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid value for AuthRejectionDelay: %s", delay)
		}
		c.AuthRejectionDelay = d
	}
	if metricsAddr := os.Getenv(EnvMetricsAddr); metricsAddr != "" {
		c.MetricsAddr = metricsAddr
	}
	if logLevel := os.Getenv(EnvLogLevel); logLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	return nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Capacity < 1 {
		errs = append(errs, fmt.Errorf("capacity must be at least 1, got %d", c.Capacity))
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid listen port %d", c.ListenPort))
	}
	if _, err := ParseAuthStrategy(string(c.AuthStrategy)); err != nil {
		errs = append(errs, err)
	}
	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("queue depth must be at least 1, got %d", c.QueueDepth))
	}
	if c.BroadcastRate < 0 {
		errs = append(errs, fmt.Errorf("broadcast rate must not be negative"))
	}
	if c.BroadcastRate > 0 && c.BroadcastBurst < 1 {
		errs = append(errs, fmt.Errorf("broadcast burst must be set when a broadcast rate is configured"))
	}
	if c.AuthStrategy == AuthAllowList && len(c.AllowedPasswords) == 0 && len(c.AuthorizedKeys) == 0 {
		errs = append(errs, fmt.Errorf("allow-list strategy requires AllowedPasswords or AuthorizedKeys"))
	}
	return errors.Join(errs...)
}

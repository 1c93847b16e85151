package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080

	DefaultWorkers        = 4
	DefaultListenBacklog  = 1024
	DefaultMaxPending     = 256
	DefaultPendingTimeout = 5 * time.Second

	DefaultTargetConnCount = 8
	DefaultHighWatermark   = 1 << 20 // 1MiB
	DefaultRetryInterval   = 500 * time.Millisecond

	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete

	DefaultReqLogName = "access"
	DefaultErrLogName = "error"
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults: a single
// server bound to DefaultHost:DefaultPort with no upstreams or vhosts
// configured (an operator must supply those).
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engineering: EngineeringConfig{
			ShowNerdStats: false,
		},
		Servers: []ServerConfig{
			{
				Name:            "default",
				Host:            DefaultHost,
				Port:            DefaultPort,
				Workers:         DefaultWorkers,
				ListenBacklog:   DefaultListenBacklog,
				MaxPending:      DefaultMaxPending,
				PendingTimeout:  DefaultPendingTimeout,
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    0, // unset: long-lived streaming responses aren't cut off
				ShutdownTimeout: 10 * time.Second,
			},
		},
	}
}

// Load loads configuration from file and environment variables, applying
// DefaultConfig()'s values where the file/env are silent.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("ravel")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RAVEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows, so register the
	// logging keys to let RAVEL_LOGGING_* variables override them.
	viper.SetDefault("logging.level", cfg.Logging.Level)
	viper.SetDefault("logging.format", cfg.Logging.Format)
	viper.SetDefault("logging.output", cfg.Logging.Output)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("RAVEL_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire duplicate events
			}
			lastReload = now

			// on some platforms this event fires before the write completes
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Validate checks the invariants the core assumes hold for a parsed config:
// at least one server, valid ports, positive worker counts, non-empty and
// unique upstream names per server, a primary_name on every non-wildcard
// vhost, and a known match_kind on every rule.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server must be configured")
	}
	for i, s := range c.Servers {
		if err := s.validate(); err != nil {
			return fmt.Errorf("config: servers[%d] (%s): %w", i, s.Name, err)
		}
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", s.Workers)
	}

	seen := make(map[string]struct{}, len(s.Upstreams))
	for _, u := range s.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstream has an empty name")
		}
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("duplicate upstream name %q", u.Name)
		}
		seen[u.Name] = struct{}{}
	}

	for _, v := range s.VHosts {
		if v.PrimaryName == "" && !v.Wildcard {
			return fmt.Errorf("vhost has an empty primary_name and is not the wildcard fallback")
		}
		for _, r := range v.Rules {
			if !matchKindValid(r.MatchKind) {
				return fmt.Errorf("vhost %q rule has invalid match_kind %q", v.PrimaryName, r.MatchKind)
			}
		}
	}
	return nil
}

func matchKindValid(kind string) bool {
	switch kind {
	case "exact", "glob", "regex", "default":
		return true
	default:
		return false
	}
}

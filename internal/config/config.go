// Package config provides configuration management for the ring node.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. RINGNODE_NODE_BIND_PORT
const EnvPrefix = "RINGNODE"

// Config represents the complete configuration for a ring node
type Config struct {
	Node    NodeConfig    `mapstructure:"node" yaml:"node"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Gossip  GossipConfig  `mapstructure:"gossip" yaml:"gossip"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// NodeConfig holds the ring member's own socket and entry point
type NodeConfig struct {
	BindIP       string        `mapstructure:"bind_ip" yaml:"bind_ip"`
	BindPort     int           `mapstructure:"bind_port" yaml:"bind_port"`
	RemoteIP     string        `mapstructure:"remote_ip" yaml:"remote_ip"`
	RemotePort   int           `mapstructure:"remote_port" yaml:"remote_port"`
	BufferSize   int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	InboxSize    int           `mapstructure:"inbox_size" yaml:"inbox_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// BindAddress returns the address the node binds to and is identified by
func (n NodeConfig) BindAddress() model.Address {
	return model.NewAddress(n.BindIP, n.BindPort)
}

// EntryAddress returns the member to join through, or nil to start a new ring
func (n NodeConfig) EntryAddress() *model.Address {
	if n.RemoteIP == "" && n.RemotePort == 0 {
		return nil
	}
	addr := model.NewAddress(n.RemoteIP, n.RemotePort)
	return &addr
}

// AdminConfig holds gRPC admin server configuration
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled   bool            `mapstructure:"enabled" yaml:"enabled"`
	Port      int             `mapstructure:"port" yaml:"port"`
	Path      string          `mapstructure:"path" yaml:"path"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig holds rate limiter configuration for the HTTP surface
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	BindPort       int           `mapstructure:"bind_port" yaml:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes" yaml:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval" yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from defaults, an optional file and the
// environment, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ringnode")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ringnode/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// AutomaticEnv only sees keys viper already knows about
	v.SetDefault("node.bind_ip", "")
	v.SetDefault("node.bind_port", 0)
	v.SetDefault("node.remote_ip", "")
	v.SetDefault("node.remote_port", 0)
	v.SetDefault("node.buffer_size", 2048)
	v.SetDefault("node.inbox_size", 256)
	v.SetDefault("node.poll_interval", "250ms")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", 50061)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.rate_limit.enabled", true)
	v.SetDefault("metrics.rate_limit.requests_per_second", 50.0)
	v.SetDefault("metrics.rate_limit.burst_size", 20)

	v.SetDefault("gossip.enabled", false)
	v.SetDefault("gossip.bind_port", 7946)
	v.SetDefault("gossip.seed_nodes", []string{})
	v.SetDefault("gossip.gossip_interval", "200ms")
	v.SetDefault("gossip.probe_timeout", "500ms")
	v.SetDefault("gossip.probe_interval", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks value ranges of every section. Ring identity rules are
// enforced by the validation package.
func (c *Config) Validate() error {
	if c.Node.BufferSize < 64 || c.Node.BufferSize > 65507 {
		return fmt.Errorf("node.buffer_size must be between 64 and 65507, got %d", c.Node.BufferSize)
	}
	if c.Node.InboxSize <= 0 {
		return fmt.Errorf("node.inbox_size must be positive")
	}
	if c.Node.PollInterval <= 0 {
		return fmt.Errorf("node.poll_interval must be positive")
	}

	if c.Admin.Enabled && !validPort(c.Admin.Port) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	if c.Metrics.Enabled {
		if !validPort(c.Metrics.Port) {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
		if c.Metrics.RateLimit.Enabled {
			if c.Metrics.RateLimit.RequestsPerSecond <= 0 {
				return fmt.Errorf("rate limiter requests per second must be positive")
			}
			if c.Metrics.RateLimit.BurstSize <= 0 {
				return fmt.Errorf("rate limiter burst size must be positive")
			}
		}
	}

	if c.Gossip.Enabled && !validPort(c.Gossip.BindPort) {
		return fmt.Errorf("invalid gossip port: %d", c.Gossip.BindPort)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the directory and scope configuration.
type AppConfig struct {
	ScopeKind        string        `mapstructure:"scope_kind"`
	ScopeName        string        `mapstructure:"scope_name"`
	NetworkOverride  string        `mapstructure:"network_override"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	QueryConcurrency int           `mapstructure:"query_concurrency"`
	RuntimeDriver    string        `mapstructure:"runtime_driver"`
	DockerBinary     string        `mapstructure:"docker_binary"`
	PublishInterval  time.Duration `mapstructure:"publish_interval"`
}

// RelayConfig holds the SOCKS relay container configuration.
type RelayConfig struct {
	Image           string        `mapstructure:"image"`
	Port            int           `mapstructure:"port"`
	ContainerPrefix string        `mapstructure:"container_prefix"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	Pull            bool          `mapstructure:"pull"`
}

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level string `mapstructure:"log_level"`
}

// EtcdConfig holds the optional index publishing configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	PathPrefix  string        `mapstructure:"etcd_path_prefix"`
	Domain      string        `mapstructure:"domain"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Config is the top-level configuration struct.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Logging LoggingConfig `mapstructure:"log"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
}

const (
	RuntimeDriverAPI = "api"
	RuntimeDriverCLI = "cli"
)

// SetDefaults registers every default value on viper.
func SetDefaults() {
	// 53s keeps refreshes clear of 5/10/15s multiples with room for a ~1s query.
	viper.SetDefault("app.scope_kind", "project")
	viper.SetDefault("app.scope_name", "")
	viper.SetDefault("app.network_override", "")
	viper.SetDefault("app.refresh_interval", 53*time.Second)
	viper.SetDefault("app.query_timeout", 5*time.Second)
	viper.SetDefault("app.query_concurrency", 4)
	viper.SetDefault("app.runtime_driver", RuntimeDriverAPI)
	viper.SetDefault("app.docker_binary", "docker")
	viper.SetDefault("app.publish_interval", 15*time.Second)
	viper.SetDefault("relay.image", "vimagick/dante:latest")
	viper.SetDefault("relay.port", 1080)
	viper.SetDefault("relay.container_prefix", "docker-proxy")
	viper.SetDefault("relay.ready_timeout", 30*time.Second)
	viper.SetDefault("relay.pull", true)
	viper.SetDefault("log.log_level", "INFO")
	viper.SetDefault("etcd.enabled", false)
	viper.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	viper.SetDefault("etcd.etcd_path_prefix", "/skydns")
	viper.SetDefault("etcd.domain", "docker.test")
	viper.SetDefault("etcd.lease_ttl", 60)
	viper.SetDefault("etcd.dial_timeout", 2*time.Second)
}

// InitConfig performs the initial configuration: setting defaults, specifying the config file, and reading it.
func InitConfig(configFile string) error {
	SetDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config") // Looks for config.yaml
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// If the file is not found, just continue with defaults and env vars.
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.App.RefreshInterval <= 0 {
		return fmt.Errorf("app.refresh_interval must be positive, got %s", c.App.RefreshInterval)
	}
	if c.App.QueryTimeout <= 0 {
		return fmt.Errorf("app.query_timeout must be positive, got %s", c.App.QueryTimeout)
	}
	switch c.App.RuntimeDriver {
	case RuntimeDriverAPI, RuntimeDriverCLI:
	default:
		return fmt.Errorf("unsupported app.runtime_driver: %q", c.App.RuntimeDriver)
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port out of range: %d", c.Relay.Port)
	}
	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints must be set when etcd publishing is enabled")
	}
	return nil
}

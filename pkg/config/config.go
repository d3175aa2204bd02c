// Package config loads gateway configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
)

// ServerConfig holds the HTTP listener and backend proxy settings.
type ServerConfig struct {
	// ListenAddr is the gateway's listen address.
	ListenAddr string `mapstructure:"listen_addr"`
	// BackendURL is the upstream MCP server the gateway proxies to.
	BackendURL string `mapstructure:"backend_url"`
}

// RedisConfig holds the credential store connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ToolSpec describes one catalog entry.
type ToolSpec struct {
	Name string   `mapstructure:"name"`
	Tags []string `mapstructure:"tags"`
}

// Config is the full gateway configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`

	// Catalog seeds the tool registry.
	Catalog []ToolSpec `mapstructure:"catalog"`

	// AuthzConfigPath points at a role mapping override file. Empty
	// means the built-in table.
	AuthzConfigPath string `mapstructure:"authz_config"`

	// AuditConfigPath points at an audit configuration file. Empty
	// means defaults.
	AuditConfigPath string `mapstructure:"audit_config"`
}

// Load reads configuration from the given file path, falling back to a
// toolgate.yaml in the working directory or /etc/toolgate. Environment
// variables prefixed with TOOLGATE_ override file values, e.g.
// TOOLGATE_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", store.DefaultKeyPrefix)

	v.SetEnvPrefix("TOOLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("toolgate")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/toolgate")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No config file is fine; defaults and env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	for i, tool := range c.Catalog {
		if tool.Name == "" {
			return fmt.Errorf("catalog entry %d has no name", i)
		}
	}
	return nil
}

// ToolDescriptors converts the configured catalog to registry
// descriptors.
func (c *Config) ToolDescriptors() []registry.ToolDescriptor {
	descriptors := make([]registry.ToolDescriptor, 0, len(c.Catalog))
	for _, tool := range c.Catalog {
		descriptors = append(descriptors, registry.ToolDescriptor{
			Name: tool.Name,
			Tags: tool.Tags,
		})
	}
	return descriptors
}

// Package config loads the server configuration from resourcemap.yaml and
// RESOURCEMAP_* environment variables.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RESOURCEMAP_DATABASE_URL
const EnvPrefix = "RESOURCEMAP"

// Config represents the resourcemap configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Pagination PaginationConfig `mapstructure:"pagination"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is a database/sql driver name: sqlite3, pgx or postgres
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Isolation is the transaction isolation level: default, read_committed,
	// repeatable_read or serializable
	Isolation string `mapstructure:"isolation"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Host      string `mapstructure:"host"`
	APIPrefix string `mapstructure:"api_prefix"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// PaginationConfig represents list defaults
type PaginationConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
}

var drivers = map[string]bool{"sqlite3": true, "pgx": true, "postgres": true}

var isolationLevels = map[string]bool{
	"": true, "default": true, "read_committed": true, "repeatable_read": true, "serializable": true,
}

// Load loads the configuration from resourcemap.yml or resourcemap.yaml in the
// working directory
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom loads the configuration from a resourcemap file in dir. A missing
// file is not an error; defaults and environment variables still apply.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("resourcemap")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "file:resourcemap.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.isolation", "default")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("pagination.default_limit", 100)
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if !drivers[c.Database.Driver] {
		return errors.Newf("database.driver must be one of sqlite3, pgx, postgres, got: %s", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if !isolationLevels[c.Database.Isolation] {
		return errors.Newf("database.isolation must be one of default, read_committed, repeatable_read, serializable, got: %s", c.Database.Isolation)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port out of range: %d", c.Server.Port)
	}
	if p := c.Server.APIPrefix; p != "" {
		if !strings.HasPrefix(p, "/") {
			return errors.Newf("server.api_prefix must start with '/', got: %s", p)
		}
		if strings.HasSuffix(p, "/") {
			return errors.Newf("server.api_prefix must not end with '/', got: %s", p)
		}
	}
	if c.Pagination.DefaultLimit <= 0 {
		return errors.Newf("pagination.default_limit must be positive, got: %d", c.Pagination.DefaultLimit)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of calc-columns
type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`
	Server struct {
		Addr           string        `yaml:"addr"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxRowsPerPage int           `yaml:"max_rows_per_page"`
	} `yaml:"server"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	c := &Config{}
	c.Database.Host = "localhost"
	c.Database.Port = "3306"
	c.Database.User = "root"
	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.MaxRowsPerPage = 1000
	c.LogLevel = "info"
	return c
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	c.ApplyEnv()
	return c, nil
}

// ApplyEnv overrides file values with MYSQL_* and CALC_* environment variables
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	override(&c.Database.Host, "MYSQL_HOST")
	override(&c.Database.Port, "MYSQL_PORT")
	override(&c.Database.User, "MYSQL_USER")
	override(&c.Database.Password, "MYSQL_PASSWORD")
	override(&c.Database.Name, "MYSQL_DATABASE")
	override(&c.Server.Addr, "CALC_SERVER_ADDR")
	override(&c.LogLevel, "CALC_LOG_LEVEL")
}

// Validate checks the values the server cannot start without
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return errors.New("database.name cannot be empty")
	}
	if _, err := strconv.Atoi(c.Database.Port); err != nil {
		return fmt.Errorf("invalid database.port '%s'", c.Database.Port)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	if c.Server.MaxRowsPerPage <= 0 || c.Server.MaxRowsPerPage > 1000 {
		return fmt.Errorf("server.max_rows_per_page must be between 1-1000, got %d", c.Server.MaxRowsPerPage)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return errors.New("server timeouts cannot be negative")
	}
	return nil
}

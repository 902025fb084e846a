package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MYSQL_HOST", "MYSQL_PORT", "MYSQL_USER", "MYSQL_PASSWORD", "MYSQL_DATABASE", "CALC_SERVER_ADDR", "CALC_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calc-columns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", c.Database.Host)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, 1000, c.Server.MaxRowsPerPage)
	assert.Equal(t, "info", c.LogLevel)
	assert.Error(t, c.Validate(), "database name is required")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  host: db.internal
  port: "3307"
  user: calc
  name: trading
server:
  addr: ":9090"
  read_timeout: 5s
  max_rows_per_page: 250
log_level: debug
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", c.Database.Host)
	assert.Equal(t, "3307", c.Database.Port)
	assert.Equal(t, "trading", c.Database.Name)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, 5*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, c.Server.WriteTimeout)
	assert.Equal(t, 250, c.Server.MaxRowsPerPage)
	assert.Equal(t, "debug", c.LogLevel)
	assert.NoError(t, c.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "database:\n  name: from_file\n")
	t.Setenv("MYSQL_DATABASE", "from_env")
	t.Setenv("CALC_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("CALC_LOG_LEVEL", "warn")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", c.Database.Name)
	assert.Equal(t, "127.0.0.1:7000", c.Server.Addr)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "database: [not, a, map"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"bad port", func(c *Config) { c.Database.Port = "mysql" }, false},
		{"no addr", func(c *Config) { c.Server.Addr = "" }, false},
		{"page too large", func(c *Config) { c.Server.MaxRowsPerPage = 5000 }, false},
		{"negative timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Database.Name = "trading"
			tt.mutate(c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "data/progress.db", cfg.SQLite.Path)
	assert.Equal(t, 3, cfg.Engine.ConflictRetries)
	assert.False(t, cfg.Engine.StrictReferences)
	assert.Equal(t, 50*time.Millisecond, cfg.Store.RetryDelay)
	assert.Equal(t, "learning:", cfg.Redis.KeyPrefix)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.False(t, cfg.UsesRedis())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ENGINE_STRICT_REFERENCES", "true")
	t.Setenv("ENGINE_TIMEZONE", "Asia/Almaty")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_URL", "postgres://u:p@localhost:5432/progress")
	t.Setenv("DB_MAX_CONNS", "20")
	t.Setenv("REDIS_PUBLISH_EVENTS", "true")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Engine.StrictReferences)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, 2*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "console", cfg.Observability.LogFormat)
	assert.True(t, cfg.UsesRedis())

	loc, err := cfg.Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Almaty", loc.String())
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("ENGINE_CONFLICT_RETRIES", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENGINE_TIMEZONE", "Mars/Olympus")
	t.Setenv("ENGINE_CONFLICT_RETRIES", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER=memory is not allowed in production")
	assert.Contains(t, err.Error(), "ENGINE_TIMEZONE")
	assert.Contains(t, err.Error(), "ENGINE_CONFLICT_RETRIES")
}

func TestValidate_Drivers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Store.Driver = "cassandra" },
			wantErr: "STORE_DRIVER",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Store.Driver = DriverPostgres },
			wantErr: "DB_URL",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.SQLite.Path = " " },
			wantErr: "SQLITE_PATH",
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Store.Driver = DriverRedis
				c.Redis.Addr = ""
			},
			wantErr: "REDIS_ADDR",
		},
		{
			name:   "memory in development",
			mutate: func(c *Config) { c.Store.Driver = DriverMemory },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

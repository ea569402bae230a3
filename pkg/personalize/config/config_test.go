package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOptions(t *testing.T) {
	cfg, err := Load(
		WithPort("9090"),
		WithDatabase("postgres", "postgresql://localhost/personalize"),
		WithRedisAssignments("redis://localhost:6379"),
	)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseType)
	assert.Equal(t, "postgresql://localhost/personalize", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"valid defaults", func(c *ServerConfig) {}, ""},
		{"missing port", func(c *ServerConfig) { c.Port = "" }, "port is required"},
		{"unknown database type", func(c *ServerConfig) { c.DatabaseType = "mysql" }, "database_type"},
		{"postgres without url", func(c *ServerConfig) { c.DatabaseType = "postgres" }, "database_url is required"},
		{"bad redis url", func(c *ServerConfig) { c.RedisURL = "localhost:6379" }, "unsupported redis url"},
		{"tls redis url", func(c *ServerConfig) { c.RedisURL = "rediss://example.com:6380" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWithEnv(t *testing.T) {
	t.Run("plain variables", func(t *testing.T) {
		t.Setenv("PORT", "3000")
		t.Setenv("DATABASE_URL", "postgresql://localhost/personalize")
		t.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load(WithEnv(""))
		require.NoError(t, err)
		assert.Equal(t, "3000", cfg.Port)
		assert.Equal(t, "postgres", cfg.DatabaseType)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	})

	t.Run("prefixed variables win", func(t *testing.T) {
		t.Setenv("PORT", "3000")
		t.Setenv("PERSONALIZE_PORT", "4000")

		cfg, err := Load(WithEnv("PERSONALIZE"))
		require.NoError(t, err)
		assert.Equal(t, "4000", cfg.Port)
	})

	t.Run("memory database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "memory")

		cfg, err := Load(WithEnv(""))
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.DatabaseType)
		assert.Empty(t, cfg.DatabaseURL)
	})

	t.Run("unsupported database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "mysql://localhost/personalize")

		_, err := Load(WithEnv(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported DATABASE_URL")
	})
}

func TestBuildServiceMemory(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	svc, err := cfg.BuildService(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tendwell/personalize/pkg/personalize"
	redisassign "github.com/tendwell/personalize/pkg/personalize/assignment/redis"
	"github.com/tendwell/personalize/pkg/personalize/repo/memory"
	repopg "github.com/tendwell/personalize/pkg/personalize/repo/postgres"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
	}
}

// ServerConfig represents server configuration for the personalize service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Optional dedicated sticky-assignment store. Empty means assignments
	// live in the repository.
	RedisURL string
}

// WithDatabase sets the repository backend.
func WithDatabase(databaseType, databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseType = databaseType
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithRedisAssignments routes sticky assignments through Redis.
func WithRedisAssignments(redisURL string) Option {
	return func(c *ServerConfig) error {
		c.RedisURL = redisURL
		return nil
	}
}

// WithPort sets the HTTP listen port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("unsupported redis url format: %s", c.RedisURL)
	}

	return nil
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (personalize.Service, error) {
	var options []personalize.Option

	switch c.DatabaseType {
	case "postgres":
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		options = append(options, personalize.WithRepository(repopg.NewWithPool(pool)))
	default:
		options = append(options, personalize.WithRepository(memory.New()))
	}

	if c.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(redisOpts)
		options = append(options, personalize.WithAssignmentStore(redisassign.New(client)))
	}

	if logger != nil {
		options = append(options, personalize.WithLogger(logger))
	}

	return personalize.New(options...)
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendwell/personalize/pkg/personalize/api"
	"github.com/tendwell/personalize/pkg/personalize/config"
)

// Env holds the environment configuration for the server process.
type Env struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	DatabaseURL string `env:"DATABASE_URL" env-default:""`
	RedisURL    string `env:"REDIS_URL" env-default:""`
}

func main() {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		log.Fatalf("Failed to read environment: %v", err)
	}

	databaseType := "memory"
	if env.DatabaseURL != "" && env.DatabaseURL != "memory" {
		databaseType = "postgres"
	}

	serverConfig, err := config.Load(
		config.WithPort(env.Port),
		config.WithDatabase(databaseType, env.DatabaseURL),
		config.WithRedisAssignments(env.RedisURL),
	)
	if err != nil {
		log.Fatalf("Failed to load server configuration: %v", err)
	}
	serverConfig.Environment = env.Environment

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	svc, err := serverConfig.BuildService(context.Background(), logger)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1/resolve", api.NewResolveHandler(svc).Routes())
	r.Mount("/api/v1/admin", api.NewAdminHandler(svc).Routes())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverConfig.Port),
		Handler: r,
	}

	go func() {
		logger.Info("personalize server starting",
			"port", serverConfig.Port,
			"environment", serverConfig.Environment,
			"database", serverConfig.DatabaseType)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server exited")
}

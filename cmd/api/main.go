package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/aman-zulfiqar/defi-nlq/internal/config"
	"github.com/aman-zulfiqar/defi-nlq/internal/flags"
	"github.com/aman-zulfiqar/defi-nlq/internal/querylog"
	"github.com/aman-zulfiqar/defi-nlq/internal/schema"
	"github.com/aman-zulfiqar/defi-nlq/internal/server"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	// Get the project root directory (where go.mod is)
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// main is the entry point for the API server
// It initializes all dependencies and starts the HTTP server with graceful shutdown
func main() {
	// Initialize structured logger with custom formatting
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.DevMode {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown (Ctrl+C, SIGTERM)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Analytics database, connected on first query
	pg := storage.NewPostgres(storage.PostgresConfig{
		DSN:              cfg.DatabaseURL,
		MaxConns:         int32(cfg.PGMaxConns),
		MinConns:         int32(cfg.PGMinConns),
		StatementTimeout: cfg.StatementTimeout,
		Logger:           logger,
	})
	defer pg.Close()

	reg, err := schema.NewLoader(cfg.SchemaRegistryPath, logger).Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load schema registry")
	}
	if cfg.SchemaReconcile {
		rctx, rcancel := context.WithTimeout(ctx, 15*time.Second)
		reconciled, drift, err := schema.Reconcile(rctx, reg, pg, logger)
		rcancel()
		switch {
		case err != nil:
			logger.WithError(err).Warn("schema reconciliation failed, using registry as loaded")
		case !drift.Empty():
			logger.WithFields(logrus.Fields{
				"missing_tables":  drift.MissingTables,
				"missing_columns": drift.MissingColumns,
			}).Warn("schema registry drifted from database")
		}
		reg = reconciled
	}

	agent, err := ai.NewAgent(ai.AgentConfig{
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		Executor:         pg,
		Filter:           schema.NewFilter(reg, schema.NewDocCache()),
		MaxRetries:       cfg.MaxSQLRetries,
		MaxLimit:         cfg.SQLMaxLimit,
		Logger:           logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize ai agent")
	}

	h := &server.Handlers{
		AI:       agent,
		Registry: reg,
		Database: pg,
		DevMode:  cfg.DevMode,
		Logger:   logger,
	}

	// Redis backs runtime toggles and the answer feed. Without it toggles
	// keep their defaults.
	rclient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   0, // Use default database for main application
	})
	defer rclient.Close()

	var sinks querylog.Multi
	if err := rclient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unavailable, runtime toggles use defaults")
	} else {
		flagStore, err := flags.NewStore(rclient, flags.WithLogger(logger))
		if err != nil {
			logger.WithError(err).Fatal("failed to create flags store")
		}
		h.Flags = flagStore
		sinks = append(sinks, querylog.NewPublisher(rclient, logger))
	}

	if cfg.QueryLogEnabled {
		cctx, ccancel := context.WithTimeout(ctx, 10*time.Second)
		ch, err := querylog.NewClickHouseStore(cctx, querylog.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
		ccancel()
		if err != nil {
			logger.WithError(err).Warn("query log store unavailable, answers will not be persisted")
		} else {
			sinks = append(sinks, ch)
			h.History = ch
		}
	}
	if len(sinks) > 0 {
		h.QueryLog = sinks
		defer sinks.Close()
	}

	// Create HTTP server with configuration and handlers
	srv, err := server.NewServer(server.ServerDeps{
		Handlers: h,
		Config: server.ServerConfig{
			Addr:        cfg.APIAddr,
			DevMode:     cfg.DevMode,
			APIKey:      cfg.APIKey,
			AIRateLimit: cfg.AIRateLimit,
			AIRateBurst: cfg.AIRateBurst,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	// Setup graceful shutdown in a separate goroutine
	go func() {
		<-sigCh // Wait for shutdown signal
		logger.Info("shutting down")
		cancel()                               // Cancel context to stop ongoing operations
		_ = srv.Shutdown(context.Background()) // Gracefully shutdown HTTP server
	}()

	logger.WithField("addr", cfg.APIAddr).Info("api server starting")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("api server failed")
	}

	// Wait for server to be fully shut down
	if err := srv.WaitClosed(context.Background()); err != nil {
		fmt.Println(err)
	}
}

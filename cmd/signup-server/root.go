package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/mongo-signup/server/internal/config"
	"github.com/mongo-signup/server/internal/logging"
	"github.com/mongo-signup/server/internal/metrics"
	"github.com/mongo-signup/server/internal/server"
)

var envFiles []string

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "signup-server",
	Short: "Signup and authentication web server backed by MongoDB",
	Long: `signup-server serves a static landing page, exposes the configured API key
and mounts the /api/auth routes once MongoDB is reachable.

Settings come from .env files, the environment and the flags below, flags
taking precedence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()
	f.StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env, .env.local)")
	f.String("port", "", "listen port (PORT)")
	f.String("mongodb-uri", "", "MongoDB connection string (MONGODB_URI)")
	f.String("public-dir", "", "directory served as static files (PUBLIC_DIR)")
	f.String("db-policy", "", "soft or strict (DB_CONNECT_POLICY)")
	f.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.String("log-format", "", "json or console (LOG_FORMAT)")

	for key, flag := range map[string]string{
		"port":              "port",
		"mongodb_uri":       "mongodb-uri",
		"public_dir":        "public-dir",
		"db_connect_policy": "db-policy",
		"log_level":         "log-level",
		"log_format":        "log-format",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
}

func run(cmd *cobra.Command, _ []string) error {
	config.LoadEnvFiles(envFiles...)
	cfg := config.Load(v)

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	app, err := server.New(server.Options{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise server")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		if errors.Is(err, server.ErrDatabaseUnavailable) {
			logger.Error().Str("policy", string(cfg.DBPolicy)).Msg("refusing to start without MongoDB")
		}
		return err
	}
	return nil
}

package main

import (
	"context"
	"database/sql"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/config"
	"github.com/conduit-lang/resourcemap/internal/db"
	"github.com/conduit-lang/resourcemap/internal/logging"
	"github.com/conduit-lang/resourcemap/internal/orm/query"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "resourcemap",
		Short: "Serve relational entities as JSON:API resources",
		Long: color.CyanString(`resourcemap - DTO to entity mapping over SQL

resourcemap exposes registered entities as JSON:API resources with
sorting, pagination, filtering, includes and relationship updates.
It runs on SQLite or PostgreSQL.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config-dir", ".", "directory containing resourcemap.yaml")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

// environment is what every command that touches the database needs
type environment struct {
	config  *config.Config
	logger  *zap.SugaredLogger
	db      *sql.DB
	dialect query.Dialect
}

func (e *environment) Close() {
	if e.db != nil {
		e.db.Close()
	}
	_ = e.logger.Sync()
}

// setup loads the configuration, builds the logger and opens the database
func setup(ctx context.Context, cmd *cobra.Command) (*environment, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	conn, dialect, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &environment{config: cfg, logger: logger, db: conn, dialect: dialect}, nil
}

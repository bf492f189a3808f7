package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brensch/arxivrefs/internal/config"
	"github.com/brensch/arxivrefs/internal/db"
)

// Commands annotated with skipState never open the state database.
const skipState = "skip-state"

var (
	cfgFile string

	// Flags bind straight into appConfig; a --config file fills in whatever
	// was not set explicitly.
	appConfig = config.Default()

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	dbConn     *sql.DB
	logFile    *os.File
)

var rootCmd = &cobra.Command{
	Use:   "arxivrefs",
	Short: "Extract bibliographic references from arXiv bulk PDF archives.",
	Long: `arxivrefs walks the arXiv bulk PDF manifest month by month, downloads each
archive tarball, and extracts the reference list of every document into a
gzipped JSON record. Extraction runs in isolated child processes with a hard
per-document timeout. Archive history is kept in a DuckDB (or SQLite) event log.

The primary command is 'extract'. Other commands download archives without
extracting them, summarise run reports, or show and export the event log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		if cfgFile != "" {
			if err := appConfig.LoadFile(cfgFile, cmd.Flags().Changed); err != nil {
				return err
			}
		}

		// --- 1. Initialize Logger ---
		logger, err := newLogger(appConfig)
		if err != nil {
			return err
		}
		rootLogger = logger
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", appConfig.LogLevel, "format", appConfig.LogFormat, "output", appConfig.LogOutput)

		// --- 2. Validate Config ---
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

		if cmd.Annotations[skipState] != "" {
			return nil
		}

		// --- 3. Open State DB ---
		path := appConfig.ResolvedDBPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory for %s: %w", path, err)
		}
		rootLogger.Info("Opening state database", "driver", appConfig.DBDriver, "path", path)
		dbConn, err = db.Open(cmd.Context(), appConfig.DBDriver, path)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logWriter io.Writer = os.Stderr
	switch strings.ToLower(cfg.LogOutput) {
	case "", "stderr":
	case "stdout":
		logWriter = os.Stdout
	default:
		f, err := os.OpenFile(cfg.LogOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogOutput, err)
		}
		logFile = f
		logWriter = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(logWriter, opts)
	} else {
		handler = slog.NewTextHandler(logWriter, opts)
	}
	return slog.New(handler), nil
}

func closeResources() {
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			getLogger().Error("Failed to close state database cleanly", "error", err)
		}
		dbConn = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Execute runs the root command. Called by main.main.
func Execute() {
	rootCmd.AddCommand(extractCmd, downloadCmd, extractOneCmd, stateCmd, inspectCmd, saveCmd)

	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		closeResources()
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "YAML config file; flags set on the command line take precedence")
	f.StringVar(&appConfig.OutputBaseDir, "output-base-dir", appConfig.OutputBaseDir, "Base directory for manifest, records and reports")
	f.StringVar(&appConfig.DBPath, "db-path", "", "State database file (default <output-base-dir>/"+config.DefaultDBFile+")")
	f.StringVar(&appConfig.DBDriver, "db-driver", appConfig.DBDriver, "State database driver (duckdb or sqlite)")
	f.StringVar(&appConfig.Bucket, "bucket", appConfig.Bucket, "S3 bucket holding the bulk archives")
	f.StringVar(&appConfig.Region, "region", appConfig.Region, "S3 region")
	f.BoolVar(&appConfig.RequesterPays, "requester-pays", appConfig.RequesterPays, "Send the requester-pays header on S3 requests")
	f.StringVar(&appConfig.MirrorURL, "mirror-url", "", "HTTP mirror laid out like the bucket, used instead of S3")
	f.StringVar(&appConfig.ManifestKey, "manifest-key", appConfig.ManifestKey, "Object key of the manifest XML")
	f.IntVar(&appConfig.DownloadWorkers, "download-workers", appConfig.DownloadWorkers, "Archives processed concurrently per month")
	f.IntVar(&appConfig.ExtractWorkers, "extract-workers", appConfig.ExtractWorkers, "Documents extracted concurrently per archive")
	f.DurationVar(&appConfig.ExtractTimeout, "extract-timeout", appConfig.ExtractTimeout, "Hard time limit per document")
	f.IntVar(&appConfig.Retries, "retries", appConfig.Retries, "Attempts per archive download")
	f.Float64Var(&appConfig.DownloadRate, "download-rate", 0, "Archive downloads started per second (0 = unlimited)")
	f.StringVar(&appConfig.LogFormat, "log-format", appConfig.LogFormat, "Log output format (text or json)")
	f.StringVar(&appConfig.LogLevel, "log-level", appConfig.LogLevel, "Log level (debug, info, warn, error)")
	f.StringVar(&appConfig.LogOutput, "log-output", appConfig.LogOutput, "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.3.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}

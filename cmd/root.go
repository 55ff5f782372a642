package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/config"
	"github.com/pable/go-rl-metrics/internal/logger"
	"github.com/pable/go-rl-metrics/internal/metrics"
	"github.com/pable/go-rl-metrics/internal/storage"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	metricsOut string

	cfg        *config.Config
	metricsMgr = metrics.NewManager()
)

var rootCmd = &cobra.Command{
	Use:   "rlmetrics",
	Short: "Car-soccer coaching metrics tool",
	Long:  "Analyze recorded match timelines: live movement metrics, refined whiff/hesitation events and graded mechanics.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsOut == "" {
			return nil
		}
		if err := metricsMgr.WriteTextfile(metricsOut); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultDB := filepath.Join(mustUserHome(), ".rlmetrics", "metrics.db")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to SQLite database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML threshold overrides (falls back to $RLMETRICS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "write pipeline metrics in Prometheus text format to this file")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(coachCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(dropCmd)
}

// setup loads configuration and initialises the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	logger.Init(os.Stderr)
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if level != "" {
		if err := logger.SetLevelString(level); err != nil {
			return fmt.Errorf("set log level: %w", err)
		}
	}
	return nil
}

// openDB creates the database directory when needed and opens the store.
func openDB() (*storage.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return db, nil
}

func mustUserHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

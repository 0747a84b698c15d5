package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/webexport/internal/config"
	"github.com/born-ml/webexport/internal/logger"
)

var (
	flagConfig    string
	flagEnvFile   string
	flagLogLevel  string
	flagLogFormat string
	flagLogFile   string

	// cfg is resolved before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "webexport",
	Short: "Export trained models as TensorFlow.js layers models",
	Long: `webexport converts .born, .safetensors, .onnx and Keras .h5 model files into a
TensorFlow.js layers model: a model.json topology plus binary weight shards.

Settings come from defaults, an optional YAML file (--config), .env and
WEBEXPORT_* environment variables, then command-line flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "YAML configuration file")
	pf.StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded when present")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&flagLogFile, "log-file", "", "write logs to this rotated file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(flagEnvFile); err != nil {
		return err
	}
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = flagLogFile
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.Log.Format)
	if err != nil {
		return err
	}
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithWriter(cmd.ErrOrStderr()),
	}
	if cfg.Log.File != "" {
		opts = append(opts,
			logger.WithLogFile(cfg.Log.File),
			logger.WithRotation(cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays))
	}
	slog.SetDefault(logger.New(opts...))
	slog.Debug("configuration resolved", "config", flagConfig, "input", cfg.Input, "output", cfg.Output)
	return nil
}

func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

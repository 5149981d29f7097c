package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kronktech/sully/cmd/sully/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sully",
	Short: "Hands-free medical interpreter",
	Long: `sully - a hands-free interpreter for doctor and patient visits.

Say "Hey Sully", then "Sully, translate" to open a session. Spanish is
translated to English and English to Spanish until you say "Sully, stop
translating". The visit is then summarized and saved.

Configuration is read from sully.yaml in the OS config directory:
  macOS:   ~/Library/Application Support/sully/
  Linux:   ~/.config/sully/
  Windows: %AppData%/sully/

Examples:
  # Write a configuration file with the defaults
  sully config init

  # Run the backend and the interpreter
  OPENAI_API_KEY=... sully serve
  DEEPGRAM_API_KEY=... sully run

  # Review saved visits
  sully conversations list`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is <config dir>/sully/sully.yaml)")
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	globalConfig, configLoadErr = config.Load(configPath)
}

// GetConfig returns the global configuration, or the error that prevented
// loading it. Commands that do not need it, like version, never fail on a
// broken file.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// newLogger returns a text logger on w, at debug level with --verbose.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/nsescan/internal/config"
)

const (
	appName = "nsescan"
	version = "v1.0.0"
)

// options are the persistent flags shared by every command
type options struct {
	configPath string
	envFile    string
	logLevel   string
	cfg        config.Config
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "NSE equity opportunity scanner",
		Long:          "Scores NSE equities from technical indicators and ranks swing and intraday trade candidates.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newAnalyzeCmd(opts),
		newMarketCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func (o *options) load() error {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg
	return setupLogging(cfg.Log)
}

// setupLogging uses a console writer on a terminal and JSON otherwise
func setupLogging(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console"
	if cfg.Format == "" || cfg.Format == "auto" {
		console = term.IsTerminal(int(os.Stderr.Fd()))
	}
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}

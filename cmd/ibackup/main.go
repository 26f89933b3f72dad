package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/commands"
	"github.com/gingerrexayers/ibackup-go/internal/ibackup/lib"
)

// app holds the settings shared by every subcommand. The root command's
// persistent flags fill it in before any subcommand runs.
type app struct {
	cfg       lib.Config
	dir       string
	logLevel  string
	logFormat string
	logger    *zap.Logger
}

func (a *app) options() commands.Options {
	logger := a.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return commands.Options{Logger: logger, NetworkPaths: a.cfg.NetworkPaths}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ibackup",
		Short: "Inspect and edit iOS device backups.",
		Long: `ibackup reads an iOS device backup directory as a tree of logical
paths (domain/relative/path), extracts files from it, and edits the
device's list of known wireless networks in place.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := lib.NewLogger(a.logLevel, a.logFormat)
			if err != nil {
				return fmt.Errorf("could not set up logging: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.dir, "directory", "d", a.cfg.ArchiveDir, "The backup directory (contains Manifest.db or Manifest.mbdb)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", a.cfg.LogLevel, "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", a.cfg.LogFormat, "Log format: console or json")

	// Add commands
	rootCmd.AddCommand(NewListCommand(a))
	rootCmd.AddCommand(NewCatCommand(a))
	rootCmd.AddCommand(NewExtractCommand(a))
	rootCmd.AddCommand(NewNetworksCommand(a))
	rootCmd.AddCommand(NewOrphansCommand(a))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

func main() {
	a := &app{cfg: lib.LoadConfig()}
	rootCmd := newRootCommand(a)

	// Interrupts cancel a pending commit or extraction.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

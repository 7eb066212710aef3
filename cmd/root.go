// Package cmd defines and implements the CLI commands for the loopy executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/config"
	"github.com/JakeFAU/loopy/internal/logging"
)

// cliState carries what PersistentPreRunE resolves to the subcommands.
type cliState struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	return newRootCommand(&cliState{v: config.New()})
}

func newRootCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loopy",
		Short: "Poll a home timeline and count the URLs it shares.",
		Long: `loopy polls a timeline API in a loop, writes every new item as one line,
counts the normalized URLs tweets reference, and optionally submits them to a
web archive.`,
		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := config.ReadFile(state.v, state.cfgFile); err != nil {
				return err
			}
			cfg, err := config.Decode(state.v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
				Compress:    cfg.Logging.Compress,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			state.cfg = cfg
			state.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newPollCmd(state))
	cmd.AddCommand(newReportCmd(state))
	return cmd
}

// bindFlag binds a flag to a config key, panicking on programmer error only.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context; the poller treats that as a clean stop.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

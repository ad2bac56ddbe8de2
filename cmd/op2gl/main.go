// Package main provides the op2gl CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/debug"
	"github.com/op2gl/op2gl/internal/telemetry"
)

var (
	// Version is the current version of op2gl (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var (
	verboseFlag bool
	quietFlag   bool
	yesFlag     bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	logger     = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "op2gl",
	Short: "op2gl - migrate an OpenProject project into GitLab",
	Long: `Migrate the work packages, forum threads, wiki pages and meetings of one
OpenProject project into a GitLab project, keeping issue numbers, authors and
dates.

A migration runs in phases against a Project Document produced by 'op2gl dump':
  op2gl create-users <project-url> <token> <document>
  op2gl issues       <project-url> <token> <document>
  op2gl wiki         <project-url> <token> <document>

Settings are read from op2gl.yaml (working directory, $XDG_CONFIG_HOME/op2gl,
~/.config/op2gl) and OP2GL_* environment variables; flags win over both.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("op2gl version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		rootCtx, rootCancel = ctx, cancel

		if err := config.Initialize(); err != nil {
			return err
		}
		if err := bindConfigFlags(cmd); err != nil {
			return err
		}
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		logger = debug.NewLogger(os.Stderr, config.GetString("log.level"))
		if f := config.ConfigFileUsed(); f != "" {
			logger.Debug("loaded config", "file", f)
		}

		if err := telemetry.Init(ctx, telemetry.Options{
			Enabled:  config.GetBool("telemetry.enabled"),
			Service:  "op2gl",
			Version:  Version,
			Endpoint: config.GetString("telemetry.endpoint"),
			File:     config.GetString("telemetry.file"),
		}); err != nil {
			logger.Warn("telemetry disabled", "error", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush telemetry", "error", err)
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Do not ask before creating accounts or granting administrator rights")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "migrate", Title: "Migration Phases:"})
	rootCmd.AddGroup(&cobra.Group{ID: "tools", Title: "Tools:"})
}

// getRootContext returns the signal-aware context of the running command.
func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		reportError(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

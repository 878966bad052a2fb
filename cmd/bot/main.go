package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reviewbot/internal/app"
	"reviewbot/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewbot",
		Short:         "Poll the review API and forward status changes to Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(cmd, cfgPath))
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func newValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and required settings, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(resolveConfigPath(cmd, cfgPath)).Parse()
			if err != nil {
				return err
			}
			if err := config.ValidateRequired(cfg.RequiredValues(), config.RequiredKeys); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

const defaultConfigPath = "./config.json"

func addConfigFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVarP(dst, "config", "c", defaultConfigPath,
		"path to config file (json or yaml); without one, settings come from the environment")
}

// resolveConfigPath drops the default path when no such file exists so the
// bot runs from environment variables alone. An explicit -c is kept as is.
func resolveConfigPath(cmd *cobra.Command, path string) string {
	if cmd.Flags().Changed("config") {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		var ce *config.ConfigError
		if errors.As(err, &ce) {
			if cfgPath == "" {
				return fmt.Errorf("%w (set them via environment)", err)
			}
			return fmt.Errorf("%w (set them in %s or via environment)", err, cfgPath)
		}
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

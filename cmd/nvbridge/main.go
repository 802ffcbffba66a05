package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kobzarvs/nvbridge/internal/app"
	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nvbridge:", err)
		os.Exit(1)
	}
}

func newRootCommand(version string) *cobra.Command {
	var (
		o     app.Overrides
		debug bool
	)
	cmd := &cobra.Command{
		Use:           "nvbridge [files...]",
		Short:         "Edit files with an embedded nvim doing the modal editing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(debug); err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := app.New(args, o).Run(ctx)
			if err != nil {
				logger.Error("exit", "err", err)
			}
			return err
		},
	}
	f := cmd.PersistentFlags()
	f.StringVar(&o.Nvim, "nvim", "", "nvim executable")
	f.BoolVar(&o.Clean, "clean", false, "start nvim without user config")
	f.StringVar(&o.Listen, "listen", "", "attach to a running nvim at this address")
	f.IntVar(&o.TimeoutLen, "timeoutlen", 0, "keymap prefix timeout in ms")
	f.BoolVar(&debug, "debug", false, "log at debug level")

	cmd.AddCommand(newCheckCommand(&o))
	return cmd
}

// newCheckCommand validates the configured nvim without starting the UI.
func newCheckCommand(o *app.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the configured nvim is usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			o.Apply(&cfg)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			path, v, err := config.Validate(ctx, cfg.Neovim)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: nvim %s\n", path, v)
			return nil
		},
	}
}

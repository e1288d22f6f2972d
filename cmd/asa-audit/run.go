package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect the audit events of the last window once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, v)
		},
	}

	// Empty defaults keep the environment values visible through viper.
	cmd.Flags().String("window", "", "Window in minutes (overrides TIME_INTERVAL)")
	_ = v.BindPFlag("window", cmd.Flags().Lookup("window"))
	cmd.Flags().String("max-pages", "", "Page cap, 0 for unbounded (overrides ASA_MAX_PAGES)")
	_ = v.BindPFlag("max_pages", cmd.Flags().Lookup("max-pages"))
	cmd.Flags().String("output", "", "Comma-separated outputs: stdout, file, webhook (overrides ASA_OUTPUT)")
	_ = v.BindPFlag("output", cmd.Flags().Lookup("output"))
	cmd.Flags().String("environment", "", "Environment tag on every record (overrides ENVIRONMENT)")
	_ = v.BindPFlag("environment", cmd.Flags().Lookup("environment"))
	return cmd
}

func runOnce(cmd *cobra.Command, v *viper.Viper) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, app.close(context.Background())) }()

	_, err = app.runner.Run(ctx)
	return err
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stream-pulse/pulse/internal/tail"
)

func tailCmd() *cobra.Command {
	opts := tail.Options{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print a filtered session from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Token == "" {
				opts.Token = os.Getenv("PULSE_AUTH_TOKEN")
			}
			opts.Out = cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tail.Run(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://127.0.0.1:8080/ws", "server websocket URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "auth token (default $PULSE_AUTH_TOKEN)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "regular expression applied to event text")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print raw JSON payloads")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", true, "print per-tick metrics lines")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/qtest-engine/internal/config"
	"github.com/QTest-hq/qtest-engine/internal/nats"
	"github.com/QTest-hq/qtest-engine/internal/reporting"
)

func watchCmd() *cobra.Command {
	var (
		natsURL string
		runID   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream run events published to NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if natsURL == "" {
				natsURL = cfg.NATSURL
			}
			if natsURL == "" {
				return fmt.Errorf("a NATS URL is required (--nats-url or QTEST_NATS_URL)")
			}

			client, err := nats.NewClient(natsURL)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return client.WatchEvents(ctx, runID, func(ev reporting.Event) {
				fmt.Fprintln(out, formatEvent(ev))
			})
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default QTEST_NATS_URL)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Only show events of this run")

	return cmd
}

func formatEvent(ev reporting.Event) string {
	line := fmt.Sprintf("%s %-14s run=%s", ev.Timestamp.Format("15:04:05"), ev.Kind, ev.RunID)
	if ev.SuiteID != "" {
		line += " suite=" + ev.SuiteID
	}
	if ev.TestID != "" {
		line += " test=" + ev.TestID
	}
	if len(ev.Payload) > 0 {
		line += " " + string(ev.Payload)
	}
	return line
}

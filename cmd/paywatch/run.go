package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep missed payments, then follow every watched address live",
		Long: `Run the monitor until SIGINT or SIGTERM.

On startup every watched address is swept from its stored watermark (unless
sweep.on_startup is false), then a live subscription is opened per address.
Dropped subscriptions are re-established and followed by a gap sweep. On
shutdown in-flight reconciliations are drained before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := newApp(os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("paywatch starting",
				slog.String("version", version),
				slog.String("config", configPath),
			)
			if err := a.Run(cmd.Context()); err != nil {
				return err
			}
			logger.Info("paywatch stopped")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one catch-up sweep of every watched address and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			results, sweepErr := a.Sweep(cmd.Context())

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tPROCESSED\tSTATUS")
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = "failed: " + r.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Address, r.Processed, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return sweepErr
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := a.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("schema is up to date")
				return nil
			}
			fmt.Printf("applied %d migration(s): %s\n", len(applied), strings.Join(applied, ", "))
			return nil
		},
	}
}

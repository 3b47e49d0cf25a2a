package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/paywatch/internal/app"
	"github.com/alanyoungcy/paywatch/internal/domain"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read applied-payment events from the Redis signal bus",
	}
	cmd.AddCommand(eventsTailCmd())
	return cmd
}

func eventsTailCmd() *cobra.Command {
	var (
		from   string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print applied payments as JSON lines",
		Long: `Replays the retained payments stream and, with --follow, keeps printing
payments as running monitors apply them. Requires redis.enabled; the
in-process bus of the memory fallback is not visible to other processes.`,
		Example: `  paywatch events tail
  paywatch events tail --from 1718000000000-0 --follow
  paywatch events tail --from "" --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("events tail needs redis.enabled: %w", domain.ErrInvalidConfig)
			}
			a := app.New(cfg, logger)
			defer a.Close()

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			return a.TailPayments(cmd.Context(), app.TailOptions{From: from, Follow: follow}, func(payload []byte) error {
				if _, err := out.Write(append(payload, '\n')); err != nil {
					return err
				}
				if follow {
					return out.Flush()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "0", `replay stream entries after this id ("0" for all, "" for none)`)
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new payments")
	return cmd
}

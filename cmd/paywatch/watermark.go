package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/paywatch/internal/config"
)

func watermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect per-address sweep watermarks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the stored watermark of every swept address",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			wms, err := a.Watermarks(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tSIGNATURE\tSLOT\tPROCESSED\tUPDATED")
			for _, wm := range wms {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					wm.Address, wm.Signature, wm.Slot, wm.Processed, wm.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the merged configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			redacted := config.RedactedConfig(cfg)
			if err := toml.NewEncoder(os.Stdout).Encode(redacted); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "\n# %v\n", err)
			}
			return nil
		},
	})
	return cmd
}

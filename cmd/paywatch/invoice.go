package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Create and inspect invoices",
	}
	cmd.AddCommand(invoiceCreateCmd())
	cmd.AddCommand(invoiceListCmd())
	return cmd
}

func invoiceCreateCmd() *cobra.Command {
	var (
		amount       string
		denomination string
		description  string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a PENDING invoice and print its payment reference",
		Example: `  paywatch invoice create --amount 12.5 --denomination USDC --description "order 1042"
  paywatch invoice create --amount 0.1 --denomination SOL --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}

			a, _, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			inv, err := a.CreateInvoice(cmd.Context(), domain.InvoiceDraft{
				Amount:       amt,
				Denomination: denomination,
				Description:  description,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, invoiceView(inv))
			}
			fmt.Printf("invoice %s created\nreference: %s\n", inv.ID, inv.Reference)
			return nil
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "0", "amount requested")
	cmd.Flags().StringVarP(&denomination, "denomination", "d", "SOL", "currency or token symbol")
	cmd.Flags().StringVar(&description, "description", "", "free text shown to operators")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func invoiceListCmd() *cobra.Command {
	var (
		status string
		limit  int
		offset int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			invoices, err := a.ListInvoices(cmd.Context(), domain.InvoiceStatus(strings.ToUpper(status)), domain.ListOpts{
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			if asJSON {
				views := make([]invoiceJSON, 0, len(invoices))
				for _, inv := range invoices {
					views = append(views, invoiceView(inv))
				}
				return writeJSON(os.Stdout, views)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REFERENCE\tSTATUS\tAMOUNT\tPAID AT\tPAYER\tSIGNATURE")
			for _, inv := range invoices {
				paidAt := "-"
				if inv.PaidAt != nil {
					paidAt = inv.PaidAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
					inv.Reference, inv.Status, inv.Amount.String(), inv.Denomination,
					paidAt, dash(inv.PayerWallet), dash(inv.Signature))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, paid, expired)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

type invoiceJSON struct {
	ID           string     `json:"id"`
	Reference    string     `json:"reference"`
	Amount       string     `json:"amount"`
	Denomination string     `json:"denomination"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	PayerWallet  string     `json:"payer_wallet,omitempty"`
	Signature    string     `json:"signature,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func invoiceView(inv domain.Invoice) invoiceJSON {
	return invoiceJSON{
		ID:           inv.ID,
		Reference:    inv.Reference,
		Amount:       inv.Amount.String(),
		Denomination: inv.Denomination,
		Description:  inv.Description,
		Status:       string(inv.Status),
		PaidAt:       inv.PaidAt,
		PayerWallet:  inv.PayerWallet,
		Signature:    inv.Signature,
		CreatedAt:    inv.CreatedAt,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

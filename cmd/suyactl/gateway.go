package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/suya/internal"
	"github.com/dukerupert/suya/internal/bootstrap"
	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/pesapal"
)

func newGateway() (*pesapal.Client, *internal.Config, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := pesapal.NewClient(bootstrap.GatewayConfig(cfg), pesapal.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func registerIPNCmd() *cobra.Command {
	var ipnURL string

	cmd := &cobra.Command{
		Use:   "register-ipn",
		Short: "Register the IPN URL with Pesapal and print its ID",
		Long: `Register the instant payment notification URL with Pesapal.

The URL defaults to URL joined with PESAPAL_IPN_PATH, or the
placeholder URL when URL points at localhost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newGateway()
			if err != nil {
				return err
			}
			if ipnURL == "" {
				ipnURL = bootstrap.CallbackURLs(cfg).IPNURL()
			}

			ctx := cmd.Context()
			token, err := client.Authenticate(ctx)
			if err != nil {
				return err
			}
			id, err := client.RegisterIPN(ctx, token.Value, ipnURL)
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), map[string]string{"url": ipnURL, "ipn_id": id}, func(w io.Writer) {
				fmt.Fprintf(w, "URL:\t%s\n", ipnURL)
				fmt.Fprintf(w, "IPN ID:\t%s\n", id)
			})
		},
	}

	cmd.Flags().StringVar(&ipnURL, "url", "", "Notification URL to register")
	return cmd
}

type statusOutput struct {
	TrackingID        string                `json:"trackingId"`
	Status            string                `json:"status"`
	Outcome           domain.PaymentOutcome `json:"outcome"`
	MerchantReference string                `json:"merchantReference"`
	Amount            string                `json:"amount"`
	Currency          string                `json:"currency"`
	PaymentMethod     string                `json:"paymentMethod"`
	ConfirmationCode  string                `json:"confirmationCode"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <trackingId>",
		Short: "Look up a transaction at Pesapal without touching the order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newGateway()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			token, err := client.Authenticate(ctx)
			if err != nil {
				return err
			}
			st, err := client.GetTransactionStatus(ctx, token.Value, args[0])
			if err != nil {
				return err
			}

			out := statusOutput{
				TrackingID:        args[0],
				Status:            st.StatusDescription(),
				Outcome:           domain.NormalizePaymentStatus(st.PaymentStatusDescription),
				MerchantReference: st.MerchantReference,
				Amount:            st.Amount.StringFixed(2),
				Currency:          st.Currency,
				PaymentMethod:     st.PaymentMethod,
				ConfirmationCode:  st.ConfirmationCode,
			}
			return printResult(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Tracking ID:\t%s\n", out.TrackingID)
				fmt.Fprintf(w, "Status:\t%s (%s)\n", out.Status, out.Outcome)
				fmt.Fprintf(w, "Order:\t%s\n", out.MerchantReference)
				fmt.Fprintf(w, "Amount:\t%s %s\n", out.Amount, out.Currency)
				fmt.Fprintf(w, "Method:\t%s\n", out.PaymentMethod)
				fmt.Fprintf(w, "Confirmation:\t%s\n", out.ConfirmationCode)
			})
		},
	}
}

// printResult writes v as JSON with --json, otherwise as aligned text.
func printResult(w io.Writer, v any, text func(w io.Writer)) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

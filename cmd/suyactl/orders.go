package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/suya/internal/bootstrap"
	"github.com/dukerupert/suya/internal/domain"
	"github.com/dukerupert/suya/internal/worker"
)

func openResources(ctx context.Context) (*bootstrap.Resources, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, logger)
}

type reconcileOutput struct {
	OrderID      string `json:"orderId"`
	TrackingID   string `json:"trackingId"`
	Status       string `json:"status"`
	OrderStatus  string `json:"orderStatus"`
	Transitioned bool   `json:"transitioned"`
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <orderId> <trackingId>",
		Short: "Verify a payment and mark the order paid if Pesapal confirms it",
		Long: `Verify a payment with Pesapal and move the order from pending to
paid when the gateway reports it COMPLETED. Orders that are already
paid are left alone and the gateway is not contacted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := openResources(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			rec, err := res.Payments.Reconcile(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			out := reconcileOutput{
				OrderID:      args[0],
				TrackingID:   args[1],
				OrderStatus:  string(rec.Order.Status),
				Transitioned: rec.Transitioned,
			}
			if rec.Verification != nil {
				out.Status = rec.Verification.Status
			}
			return printResult(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Order:\t%s\n", out.OrderID)
				fmt.Fprintf(w, "Tracking ID:\t%s\n", out.TrackingID)
				if out.Status != "" {
					fmt.Fprintf(w, "Gateway status:\t%s\n", out.Status)
				}
				fmt.Fprintf(w, "Order status:\t%s\n", out.OrderStatus)
				fmt.Fprintf(w, "Marked paid now:\t%t\n", out.Transitioned)
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	var (
		minAge      time.Duration
		maxAge      time.Duration
		batchSize   int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile every order with a stale payment attempt once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			res, err := bootstrap.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer res.Close()

			if minAge == 0 {
				minAge = cfg.Reconciler.MinAge
			}
			if maxAge == 0 {
				maxAge = cfg.Reconciler.MaxAge
			}
			if concurrency == 0 {
				concurrency = cfg.Reconciler.Concurrency
			}
			reconciler := worker.NewReconciler(res.Store, res.Payments, worker.Config{
				WorkerID:       "suyactl",
				MinAge:         minAge,
				MaxAge:         maxAge,
				MaxConcurrency: concurrency,
				BatchSize:      batchSize,
			}, logger)

			result, err := reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "Checked:\t%d\n", result.Checked)
				fmt.Fprintf(w, "Confirmed:\t%d\n", result.Confirmed)
				fmt.Fprintf(w, "Failed:\t%d\n", result.Failed)
			})
		},
	}

	cmd.Flags().DurationVar(&minAge, "min-age", 0, "Only orders whose attempt started this long ago (default RECONCILER_MIN_AGE_SECONDS)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Skip attempts older than this (default RECONCILER_MAX_AGE_SECONDS)")
	cmd.Flags().IntVarP(&batchSize, "limit", "n", 50, "Maximum orders to check")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Orders checked at once (default RECONCILER_CONCURRENCY)")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <orderId>",
		Short: "Print every status change of an order until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := openResources(ctx)
			if err != nil {
				return err
			}
			defer res.Close()

			updates, err := res.Store.Watch(ctx, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				case o, ok := <-updates:
					if !ok {
						return nil
					}
					if err := printOrder(w, o); err != nil {
						return err
					}
				}
			}
		},
	}
}

type orderOutput struct {
	OrderID     string     `json:"orderId"`
	Status      string     `json:"status"`
	TotalAmount string     `json:"totalAmount"`
	TrackingID  string     `json:"pesapalTrackingId,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

func printOrder(w io.Writer, o *domain.Order) error {
	out := orderOutput{
		OrderID:     o.ID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.StringFixed(2),
		TrackingID:  o.PesapalTrackingID,
		PaidAt:      o.PaidAt,
	}
	if jsonOutput {
		return json.NewEncoder(w).Encode(out)
	}
	paidAt := "-"
	if out.PaidAt != nil {
		paidAt = out.PaidAt.Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "%s  %-10s  total=%s  tracking=%s  paid_at=%s\n",
		time.Now().Format(time.TimeOnly), out.Status, out.TotalAmount, out.TrackingID, paidAt)
	return err
}

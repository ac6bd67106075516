package main

import (
	"os"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/order"
)

func ordersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and export orders",
	}
	cmd.AddCommand(ordersShowCmd(g))
	cmd.AddCommand(ordersExportCmd(g))
	return cmd
}

func ordersShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show [order-id]",
		Short: "Print an order with its audit trail as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			o, err := b.Store.Get(ctx, args[0])
			if err != nil {
				return errors.Wrapf(err, "get order %s", args[0])
			}
			events, err := b.Store.Events(ctx, o.ID)
			if err != nil {
				return errors.Wrapf(err, "events of %s", o.ID)
			}

			e := jx.Encoder{}
			e.SetIdent(2)
			encodeRecord(&e, o, events)
			_, err = cmd.OutOrStdout().Write(append(e.Bytes(), '\n'))
			return err
		},
	}
}

func ordersExportCmd(g *globals) *cobra.Command {
	var (
		out     string
		email   string
		limit   int
		workers int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export orders and audit trails as gzipped JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			w := cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return errors.Wrap(err, "create output")
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			n, err := exportOrders(ctx, b.Store, w, order.ListFilter{Email: email, Limit: limit}, workers)
			if err != nil {
				return err
			}
			g.lg.Info("Export completed", zap.Int("orders", n), zap.String("out", out))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&out, "out", "o", "orders.jsonl.gz", "Output file, - for stdout")
	f.StringVar(&email, "email", "", "Only orders placed with this email")
	f.IntVarP(&limit, "limit", "n", 1000, "Maximum orders to export")
	f.IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "Concurrent audit trail fetches")
	return cmd
}

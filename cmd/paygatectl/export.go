package main

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/handler"
)

// encodeRecord writes one order with its audit trail as a single JSON
// object.
func encodeRecord(e *jx.Encoder, o *order.Order, events []order.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order", func(e *jx.Encoder) { handler.EncodeOrder(e, o, true) })
		e.Field("events", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ev := range events {
					handler.EncodeEvent(e, ev)
				}
			})
		})
	})
}

// exportOrders writes the orders matching f as gzipped JSON lines, newest
// first. Audit trails are fetched by up to workers goroutines; output
// order follows the listing.
func exportOrders(ctx context.Context, store order.Store, w io.Writer, f order.ListFilter, workers int) (int, error) {
	if workers < 1 {
		workers = 1
	}
	orders, err := store.List(ctx, f)
	if err != nil {
		return 0, errors.Wrap(err, "list orders")
	}

	lines := make([][]byte, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range orders {
		g.Go(func() error {
			o := &orders[i]
			events, err := store.Events(gctx, o.ID)
			if err != nil {
				return errors.Wrapf(err, "events of %s", o.ID)
			}
			var e jx.Encoder
			encodeRecord(&e, o, events)
			lines[i] = append(e.Bytes(), '\n')
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	zw := pgzip.NewWriter(w)
	if err := zw.SetConcurrency(1<<20, workers); err != nil {
		return 0, errors.Wrap(err, "configure gzip")
	}
	for _, line := range lines {
		if _, err := zw.Write(line); err != nil {
			return 0, errors.Wrap(err, "write gzip")
		}
	}
	if err := zw.Close(); err != nil {
		return 0, errors.Wrap(err, "close gzip")
	}
	return len(lines), nil
}

package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/storage/memory"
)

func seed(t *testing.T, s *memory.Store, n int) {
	t.Helper()
	ctx := t.Context()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := range n {
		at := base.Add(time.Duration(i) * time.Minute)
		id := "ord-" + string(rune('a'+i))
		require.NoError(t, s.Create(ctx, &order.Order{
			ID:       id,
			Items:    []order.Item{{ProductID: "tee", Name: "Tee", UnitPrice: decimal.RequireFromString("87.50"), Quantity: 2}},
			Amount:   decimal.RequireFromString("175.00"),
			Currency: "ZAR",
			Customer: order.Customer{Name: "Thandi", Email: "thandi@example.com"},
			Status:   order.StatusCreated,

			CreatedAt: at,
			UpdatedAt: at,
		}))
		require.NoError(t, s.RecordEvent(ctx, order.Event{
			OrderID:   id,
			Kind:      order.EventCreated,
			ToStatus:  order.StatusCreated,
			CreatedAt: at,
		}))
	}
}

// readExport decodes every line and returns the order ids with their
// event counts.
func readExport(t *testing.T, data []byte) (ids []string, events []int) {
	t.Helper()
	zr, err := pgzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var (
			id    string
			count int
		)
		require.NoError(t, jx.DecodeBytes(sc.Bytes()).Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "order":
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "orderId" {
						return d.Skip()
					}
					v, err := d.Str()
					id = v
					return err
				})
			case "events":
				return d.Arr(func(d *jx.Decoder) error {
					count++
					return d.Skip()
				})
			default:
				return d.Skip()
			}
		}))
		ids = append(ids, id)
		events = append(events, count)
	}
	require.NoError(t, sc.Err())
	return ids, events
}

func TestExportOrders(t *testing.T) {
	s := memory.New()
	seed(t, s, 5)

	var buf bytes.Buffer
	n, err := exportOrders(t.Context(), s, &buf, order.ListFilter{Limit: 10}, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	ids, events := readExport(t, buf.Bytes())
	assert.Equal(t, []string{"ord-e", "ord-d", "ord-c", "ord-b", "ord-a"}, ids)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, events)
}

func TestExportOrders_Filter(t *testing.T) {
	s := memory.New()
	seed(t, s, 3)

	var buf bytes.Buffer
	n, err := exportOrders(t.Context(), s, &buf, order.ListFilter{Email: "nobody@example.com"}, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	ids, _ := readExport(t, buf.Bytes())
	assert.Empty(t, ids)

	buf.Reset()
	n, err = exportOrders(t.Context(), s, &buf, order.ListFilter{Limit: 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type brokenEvents struct {
	*memory.Store
}

func (brokenEvents) Events(context.Context, string) ([]order.Event, error) {
	return nil, errors.New("connection reset")
}

func TestExportOrders_EventsError(t *testing.T) {
	s := memory.New()
	seed(t, s, 2)

	var buf bytes.Buffer
	_, err := exportOrders(t.Context(), brokenEvents{s}, &buf, order.ListFilter{}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Zero(t, buf.Len())
}

func TestAPIKeyHashCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"apikey", "hash", "--pepper", "pepper", "--name", "ops", "ops-secret"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))
	assert.Equal(t, "ops:"+auth.HashKey("pepper", "ops-secret"), strings.TrimSpace(out.String()))
}

func TestOpen_RefusesMemory(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"orders", "show", "--storage", "memory", "ord-1"})
	err := cmd.ExecuteContext(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no data")
}

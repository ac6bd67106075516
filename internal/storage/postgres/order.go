package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/paygate/internal/domain/order"
)

const uniqueViolation = "23505"

const orderColumns = `id, items, amount, currency,
	customer_name, customer_email, customer_phone, customer_address,
	status, gateway, gateway_transaction_id, failure_reason,
	created_at, updated_at, paid_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	updateOrderSQL = `UPDATE orders SET status = $2, gateway = $3, gateway_transaction_id = $4,
	failure_reason = $5, updated_at = $6, paid_at = $7
	WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE ($1 = '' OR lower(customer_email) = lower($1))
	ORDER BY created_at DESC, id DESC
	LIMIT $2`

	insertEventSQL = `INSERT INTO order_events (order_id, kind, gateway, from_status, to_status, detail, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))`

	listEventsSQL = `SELECT id, order_id, kind, gateway, from_status, to_status, detail, created_at
	FROM order_events WHERE order_id = $1 ORDER BY id`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store. Update serializes writers with a row
// lock held for the duration of the mutator.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create persists a new order. Items are stored in a JSONB column.
func (s *OrderStore) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	_, err = s.pool.Exec(ctx, createOrderSQL,
		o.ID, itemsJSON, o.Amount, o.Currency,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address,
		string(o.Status), o.Gateway, o.GatewayTransactionID, o.FailureReason,
		o.CreatedAt, o.UpdatedAt, o.PaidAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Wrapf(order.ErrDuplicateOrderID, "create %q", o.ID)
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(order.ErrNotFound, "get %q", id)
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return o, nil
}

func (s *OrderStore) Update(ctx context.Context, id string, fn order.Mutator) (*order.Order, error) {
	var result *order.Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanOrder(tx.QueryRow(ctx, lockOrderSQL, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrapf(order.ErrNotFound, "update %q", id)
			}
			return errors.Wrapf(err, "lock order %q", id)
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, order.ErrNoChange) {
				result = current
				return nil
			}
			return err
		}

		if _, err := tx.Exec(ctx, updateOrderSQL,
			id, string(next.Status), next.Gateway, next.GatewayTransactionID,
			next.FailureReason, next.UpdatedAt, next.PaidAt,
		); err != nil {
			return errors.Wrapf(err, "update order %q", id)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *OrderStore) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = order.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, listOrdersSQL, strings.TrimSpace(f.Email), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	return out, nil
}

func (s *OrderStore) RecordEvent(ctx context.Context, e order.Event) error {
	var createdAt any
	if !e.CreatedAt.IsZero() {
		createdAt = e.CreatedAt
	}
	_, err := s.pool.Exec(ctx, insertEventSQL,
		e.OrderID, string(e.Kind), e.Gateway, string(e.FromStatus), string(e.ToStatus), e.Detail, createdAt,
	)
	if err != nil {
		return errors.Wrapf(err, "record %s event for %q", e.Kind, e.OrderID)
	}
	return nil
}

func (s *OrderStore) Events(ctx context.Context, orderID string) ([]order.Event, error) {
	rows, err := s.pool.Query(ctx, listEventsSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var out []order.Event
	for rows.Next() {
		var (
			e                      order.Event
			kind, fromSt, toStatus string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &kind, &e.Gateway, &fromSt, &toStatus, &e.Detail, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Kind = order.EventKind(kind)
		e.FromStatus = order.Status(fromSt)
		e.ToStatus = order.Status(toStatus)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return out, nil
}

// Ping reports whether the database is reachable.
func (s *OrderStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		status    string
	)
	err := row.Scan(
		&o.ID, &itemsJSON, &o.Amount, &o.Currency,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&status, &o.Gateway, &o.GatewayTransactionID, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal order items")
	}
	o.Status = order.Status(status)
	return &o, nil
}

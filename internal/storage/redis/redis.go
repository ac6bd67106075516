// Package redis implements order.Store on Redis. Orders are JSON documents;
// updates use WATCH/MULTI so concurrent writers to one order retry instead
// of overwriting each other.
package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/paygate/internal/domain/order"
)

// DefaultMaxRetries bounds optimistic update attempts.
const DefaultMaxRetries = 16

var _ order.Store = (*Store)(nil)

// Store is a Redis-backed order.Store.
type Store struct {
	rdb        redis.UniversalClient
	prefix     string
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. Defaults to "paygate".
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = strings.TrimSuffix(p, ":") }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New wraps rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "paygate", maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

func (s *Store) orderKey(id string) string { return s.prefix + ":order:" + id }
func (s *Store) indexKey() string          { return s.prefix + ":orders" }
func (s *Store) emailKey(email string) string {
	return s.prefix + ":orders:email:" + strings.ToLower(strings.TrimSpace(email))
}
func (s *Store) eventsKey(id string) string { return s.prefix + ":events:" + id }
func (s *Store) eventSeqKey() string        { return s.prefix + ":events:seq" }

type record struct {
	ID                   string          `json:"id"`
	Items                []order.Item    `json:"items"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Customer             order.Customer  `json:"customer"`
	Status               order.Status    `json:"status"`
	Gateway              string          `json:"gateway,omitempty"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
}

func encodeOrder(o *order.Order) ([]byte, error) {
	return json.Marshal(record{
		ID:                   o.ID,
		Items:                o.Items,
		Amount:               o.Amount,
		Currency:             o.Currency,
		Customer:             o.Customer,
		Status:               o.Status,
		Gateway:              o.Gateway,
		GatewayTransactionID: o.GatewayTransactionID,
		FailureReason:        o.FailureReason,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
		PaidAt:               o.PaidAt,
	})
}

func decodeOrder(data []byte) (*order.Order, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &order.Order{
		ID:                   r.ID,
		Items:                r.Items,
		Amount:               r.Amount,
		Currency:             r.Currency,
		Customer:             r.Customer,
		Status:               r.Status,
		Gateway:              r.Gateway,
		GatewayTransactionID: r.GatewayTransactionID,
		FailureReason:        r.FailureReason,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		PaidAt:               r.PaidAt,
	}, nil
}

func (s *Store) Create(ctx context.Context, o *order.Order) error {
	data, err := encodeOrder(o)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.orderKey(o.ID), data, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	if !ok {
		return errors.Wrapf(order.ErrDuplicateOrderID, "create %q", o.ID)
	}

	score := float64(o.CreatedAt.UnixMilli())
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: o.ID})
		if o.Customer.Email != "" {
			pipe.ZAdd(ctx, s.emailKey(o.Customer.Email), redis.Z{Score: score, Member: o.ID})
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "index order %q", o.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*order.Order, error) {
	data, err := s.rdb.Get(ctx, s.orderKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(order.ErrNotFound, "get %q", id)
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return decodeOrder(data)
}

func (s *Store) Update(ctx context.Context, id string, fn order.Mutator) (*order.Order, error) {
	key := s.orderKey(id)
	var result *order.Order

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errors.Wrapf(order.ErrNotFound, "update %q", id)
			}
			return err
		}
		current, err := decodeOrder(data)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, order.ErrNoChange) {
				result = current
				return nil
			}
			return err
		}
		encoded, err := encodeOrder(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for range s.maxRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, errors.Errorf("update order %q: too much contention", id)
}

func (s *Store) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = order.DefaultListLimit
	}
	index := s.indexKey()
	if f.Email != "" {
		index = s.emailKey(f.Email)
	}

	ids, err := s.rdb.ZRevRange(ctx, index, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list order ids")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.orderKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load orders")
	}

	out := make([]order.Order, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		o, err := decodeOrder([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

type eventRecord struct {
	ID         int64           `json:"id"`
	OrderID    string          `json:"order_id"`
	Kind       order.EventKind `json:"kind"`
	Gateway    string          `json:"gateway,omitempty"`
	FromStatus order.Status    `json:"from_status,omitempty"`
	ToStatus   order.Status    `json:"to_status,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *Store) RecordEvent(ctx context.Context, e order.Event) error {
	id, err := s.rdb.Incr(ctx, s.eventSeqKey()).Result()
	if err != nil {
		return errors.Wrap(err, "allocate event id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	data, err := json.Marshal(eventRecord{
		ID:         id,
		OrderID:    e.OrderID,
		Kind:       e.Kind,
		Gateway:    e.Gateway,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Detail:     e.Detail,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := s.rdb.RPush(ctx, s.eventsKey(e.OrderID), data).Err(); err != nil {
		return errors.Wrapf(err, "record %s event for %q", e.Kind, e.OrderID)
	}
	return nil
}

func (s *Store) Events(ctx context.Context, orderID string) ([]order.Event, error) {
	raw, err := s.rdb.LRange(ctx, s.eventsKey(orderID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	out := make([]order.Event, 0, len(raw))
	for _, item := range raw {
		var r eventRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, errors.Wrap(err, "decode event")
		}
		out = append(out, order.Event{
			ID:         r.ID,
			OrderID:    r.OrderID,
			Kind:       r.Kind,
			Gateway:    r.Gateway,
			FromStatus: r.FromStatus,
			ToStatus:   r.ToStatus,
			Detail:     r.Detail,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

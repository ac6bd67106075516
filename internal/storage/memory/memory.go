// Package memory provides an in-process order.Store for tests and single
// instance deployments.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/paygate/internal/domain/order"
)

var _ order.Store = (*Store)(nil)

type entry struct {
	mu    sync.Mutex
	order *order.Order
}

// Store keeps orders in memory. Updates to one order are serialized by a
// per-order mutex; different orders proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]*entry
	events  map[string][]order.Event
	eventID int64
	now     func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		orders: make(map[string]*entry),
		events: make(map[string][]order.Event),
		now:    time.Now,
	}
}

func (s *Store) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return errors.Wrapf(order.ErrDuplicateOrderID, "create %q", o.ID)
	}
	s.orders[o.ID] = &entry{order: o.Clone()}
	return nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.orders[id]
	return e, ok
}

func (s *Store) Get(_ context.Context, id string) (*order.Order, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, errors.Wrapf(order.ErrNotFound, "get %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, fn order.Mutator) (*order.Order, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, errors.Wrapf(order.ErrNotFound, "update %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := e.order.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, order.ErrNoChange) {
			return e.order.Clone(), nil
		}
		return nil, err
	}
	e.order = next
	return next.Clone(), nil
}

func (s *Store) List(_ context.Context, f order.ListFilter) ([]order.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = order.DefaultListLimit
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.orders))
	for _, e := range s.orders {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]order.Order, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		o := e.order.Clone()
		e.mu.Unlock()
		if f.Email != "" && !strings.EqualFold(o.Customer.Email, f.Email) {
			continue
		}
		out = append(out, *o)
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordEvent(_ context.Context, ev order.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventID++
	ev.ID = s.eventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.events[ev.OrderID] = append(s.events[ev.OrderID], ev)
	return nil
}

func (s *Store) Events(_ context.Context, orderID string) ([]order.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[orderID]), nil
}

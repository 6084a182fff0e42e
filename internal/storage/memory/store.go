// Package memory is an in-process implementation of the order, product and
// promo repositories.
//
// Transactions are fully serialized: InTx works on a private copy of the
// data and publishes it on commit, so a failed transaction leaves nothing
// behind. Waiting for the single transaction slot is bounded by the lock
// timeout, mirroring lock_timeout in the Postgres implementation.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
)

type state struct {
	products map[int64]product.Product
	promos   map[string]promo.Rule
	orders   map[string]order.Order
	claims   map[string]string
	ops      []order.Operation
	nextID   int64
}

func newState() *state {
	return &state{
		products: make(map[int64]product.Product),
		promos:   make(map[string]promo.Rule),
		orders:   make(map[string]order.Order),
		claims:   make(map[string]string),
		nextID:   1,
	}
}

func (s *state) clone() *state {
	orders := make(map[string]order.Order, len(s.orders))
	for id, o := range s.orders {
		orders[id] = copyOrder(o)
	}
	return &state{
		products: maps.Clone(s.products),
		promos:   maps.Clone(s.promos),
		orders:   orders,
		claims:   maps.Clone(s.claims),
		ops:      slices.Clone(s.ops),
		nextID:   s.nextID,
	}
}

func copyOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

// Store holds all data in memory.
type Store struct {
	slot        chan struct{}
	lockTimeout time.Duration

	mu    sync.RWMutex
	state *state
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long InTx waits for the transaction slot.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		slot:        make(chan struct{}, 1),
		lockTimeout: 3 * time.Second,
		state:       newState(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ order.Transactor = (*Store)(nil)

// InTx runs fn against a private copy of the data and publishes the copy
// when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.slot }()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *Store) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-timeout:
		return apperr.New(apperr.ConcurrencyTimeout, "timed out waiting for a lock, retry the operation")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.New(apperr.ConcurrencyTimeout, "timed out waiting for a lock, retry the operation")
		}
		return ctx.Err()
	}
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AddProduct stores p, assigning an id when p.ID is zero.
func (s *Store) AddProduct(ctx context.Context, p product.Product) (product.Product, error) {
	err := s.InTx(ctx, func(_ context.Context, t order.Tx) error {
		st := t.(*tx).st
		if p.ID == 0 {
			p.ID = st.nextID
		}
		if _, ok := st.products[p.ID]; ok {
			return errors.Errorf("product %d already exists", p.ID)
		}
		st.products[p.ID] = p
		st.nextID = max(st.nextID, p.ID+1)
		return nil
	})
	return p, err
}

var _ product.Repository = (*Store)(nil)

// List returns all products ordered by id.
func (s *Store) List(_ context.Context) ([]product.Product, error) {
	st := s.read()
	out := slices.Collect(maps.Values(st.products))
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// GetByID returns one product.
func (s *Store) GetByID(_ context.Context, id int64) (*product.Product, error) {
	p, ok := s.read().products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// UpdateProduct applies fn to a copy of the product and keeps the result
// only when fn succeeds.
func (s *Store) UpdateProduct(ctx context.Context, id int64, fn func(p *product.Product) error) (*product.Product, error) {
	var updated product.Product
	err := s.InTx(ctx, func(_ context.Context, t order.Tx) error {
		st := t.(*tx).st
		p, ok := st.products[id]
		if !ok {
			return product.ErrNotFound
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.ID = id
		st.products[id] = p
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

var _ promo.Repository = (*Store)(nil)

// Create stores a new promo code.
func (s *Store) Create(ctx context.Context, rule *promo.Rule) error {
	return s.InTx(ctx, func(_ context.Context, t order.Tx) error {
		st := t.(*tx).st
		if _, ok := st.promos[rule.Code]; ok {
			return promo.ErrConflict
		}
		st.promos[rule.Code] = *rule
		return nil
	})
}

// FindByCode returns a promo code without locking it.
func (s *Store) FindByCode(_ context.Context, code string) (*promo.Rule, error) {
	r, ok := s.read().promos[promo.NormalizeCode(code)]
	if !ok {
		return nil, promo.ErrNotFound
	}
	return &r, nil
}

// ActiveOrder returns the order currently claimed by a buyer.
func (s *Store) ActiveOrder(buyerID string) (string, bool) {
	id, ok := s.read().claims[buyerID]
	return id, ok
}

// Orders returns every stored order.
func (s *Store) Orders() []order.Order {
	st := s.read()
	out := make([]order.Order, 0, len(st.orders))
	for _, o := range st.orders {
		out = append(out, copyOrder(o))
	}
	return out
}

package order

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/money"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/domain/stock"
)

const instrumentationName = "github.com/xenking/marketplace/internal/domain/order"

// MaxQuantity bounds a line quantity after duplicate lines are merged. It
// matches the INTEGER quantity and stock columns.
const MaxQuantity = math.MaxInt32

// ItemInput is a requested product quantity.
type ItemInput struct {
	ProductID int64
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	Items     []ItemInput
	PromoCode string
	// IdempotencyKey, when set, makes repeated requests from the same buyer
	// return the order created by the first one.
	IdempotencyKey string
}

// UpdateRequest holds the replacement line items of an order.
type UpdateRequest struct {
	Items []ItemInput
}

// Service orchestrates order placement, editing, cancellation and
// completion. Every operation runs as one transaction: it either commits
// the order, stock, promo usage and active-order claim changes together or
// leaves all of them untouched.
type Service struct {
	tx        Transactor
	promos    *promo.Engine
	money     money.Policy
	now       func() time.Time
	newID     func() string
	rateLimit time.Duration
	events    Publisher
	idem      IdempotencyStore

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	ops            metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how order ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithMoneyPolicy sets the rounding policy for discounts.
func WithMoneyPolicy(p money.Policy) Option {
	return func(s *Service) { s.money = p }
}

// WithPromoEngine replaces the default promo engine.
func WithPromoEngine(e *promo.Engine) Option {
	return func(s *Service) { s.promos = e }
}

// WithRateLimit sets the minimum interval between two operations of the
// same type by one buyer. Zero disables the check.
func WithRateLimit(d time.Duration) Option {
	return func(s *Service) { s.rateLimit = d }
}

// WithPublisher sets where lifecycle events are delivered.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithIdempotency enables idempotency keys on Create.
func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idem = store }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// NewService creates an order Service running its work through tx.
func NewService(tx Transactor, opts ...Option) *Service {
	s := &Service{
		tx:             tx,
		money:          money.MustPolicy("RUB"),
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
		events:         nopPublisher{},
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.promos == nil {
		s.promos = promo.NewEngine(promo.WithClock(s.now), promo.WithRounding(s.money.Round))
	}
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	ops, err := s.meterProvider.Meter(instrumentationName).Int64Counter("marketplace.order.operations",
		metric.WithDescription("Order operations by kind and result code"),
	)
	if err != nil {
		ops, _ = noop.Meter{}.Int64Counter("marketplace.order.operations")
	}
	s.ops = ops
	return s
}

// Create places a new order for the calling buyer.
func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateRequest) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer func() { s.finish(ctx, span, "create", err) }()

	if err := id.Require(auth.RoleUser, auth.RoleAdmin); err != nil {
		return nil, err
	}
	lines, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		orderID, found, err := s.idem.Lookup(ctx, id.UserID, req.IdempotencyKey)
		switch {
		case err != nil:
			zctx.From(ctx).Warn("Idempotency lookup failed", zap.Error(err))
		case found:
			return s.get(ctx, id, orderID)
		}
	}

	var created *Order
	err = s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()
		o := &Order{
			ID:        s.newID(),
			BuyerID:   id.UserID,
			Status:    StatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := NewGuard(tx.Claims()).Claim(ctx, o.BuyerID, o.ID); err != nil {
			return err
		}
		if err := s.checkRateLimit(ctx, tx, o.BuyerID, OpCreateOrder, now); err != nil {
			return err
		}

		products, err := stock.NewLedger(tx.Products()).ReserveAll(ctx, lines)
		if err != nil {
			return err
		}
		o.Items = make([]Item, len(lines))
		for i, ln := range lines {
			o.Items[i] = Item{ProductID: ln.ProductID, Quantity: ln.Quantity, UnitPrice: products[i].Price}
		}

		if err := s.price(ctx, tx, o, req.PromoCode); err != nil {
			return err
		}
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.Operations().Record(ctx, Operation{
			BuyerID:   o.BuyerID,
			Type:      OpCreateOrder,
			OrderID:   o.ID,
			CreatedAt: now,
		}); err != nil {
			return errors.Wrap(err, "record operation")
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.Remember(ctx, id.UserID, req.IdempotencyKey, created.ID); err != nil {
			zctx.From(ctx).Warn("Idempotency store failed", zap.String("order_id", created.ID), zap.Error(err))
		}
	}
	s.committed(ctx, EventCreated, created)
	return created, nil
}

// Get returns an order visible to the caller.
func (s *Service) Get(ctx context.Context, id auth.Identity, orderID string) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Get")
	defer func() { s.finish(ctx, span, "get", err) }()

	return s.get(ctx, id, orderID)
}

func (s *Service) get(ctx context.Context, id auth.Identity, orderID string) (*Order, error) {
	var o *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.Orders().Get(ctx, orderID); err != nil {
			return err
		}
		return authorize(id, o)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Update replaces the items of a mutable order, moving stock for the
// difference and re-applying its promo code against the new subtotal.
func (s *Service) Update(ctx context.Context, id auth.Identity, orderID string, req UpdateRequest) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Update")
	defer func() { s.finish(ctx, span, "update", err) }()

	if err := id.Require(auth.RoleUser, auth.RoleAdmin); err != nil {
		return nil, err
	}
	lines, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}

	var updated *Order
	err = s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.lockOwned(ctx, tx, id, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Mutable() {
			return apperr.Errorf(apperr.OrderNotMutable, "order in status %s cannot be updated", o.Status).
				WithDetail("status", string(o.Status))
		}
		now := s.now()
		if err := s.checkRateLimit(ctx, tx, o.BuyerID, OpUpdateOrder, now); err != nil {
			return err
		}

		items, err := rebalance(ctx, stock.NewLedger(tx.Products()), o.Items, lines)
		if err != nil {
			return err
		}
		if err := o.ReplaceItems(items, now); err != nil {
			return err
		}

		code := o.PromoCode
		if code != "" {
			if err := s.promos.Release(ctx, tx.Promos(), code); err != nil {
				return err
			}
		}
		if err := s.price(ctx, tx, o, code); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		if err := tx.Operations().Record(ctx, Operation{
			BuyerID:   o.BuyerID,
			Type:      OpUpdateOrder,
			OrderID:   o.ID,
			CreatedAt: now,
		}); err != nil {
			return errors.Wrap(err, "record operation")
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, EventUpdated, updated)
	return updated, nil
}

// Cancel cancels a mutable order, returning its stock and promo use and
// freeing the buyer's active order slot.
func (s *Service) Cancel(ctx context.Context, id auth.Identity, orderID string) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel")
	defer func() { s.finish(ctx, span, "cancel", err) }()

	if err := id.Require(auth.RoleUser, auth.RoleAdmin); err != nil {
		return nil, err
	}

	var cancelled *Order
	err = s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.lockOwned(ctx, tx, id, orderID)
		if err != nil {
			return err
		}
		if err := o.Cancel(s.now()); err != nil {
			return err
		}

		ledger := stock.NewLedger(tx.Products())
		lines := o.Lines()
		if err := ledger.Lock(ctx, lo.Map(lines, func(ln stock.Line, _ int) int64 { return ln.ProductID })...); err != nil {
			return err
		}
		for _, ln := range lines {
			ledger.Hold(ln.ProductID, ln.Quantity)
		}
		if err := ledger.ReleaseAll(ctx, lines); err != nil {
			return err
		}

		if o.PromoCode != "" {
			if err := s.promos.Release(ctx, tx.Promos(), o.PromoCode); err != nil {
				return err
			}
		}
		if err := NewGuard(tx.Claims()).Release(ctx, o.BuyerID, o.ID); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, EventCancelled, cancelled)
	return cancelled, nil
}

// Complete marks an order fulfilled. Reserved stock stays consumed.
func (s *Service) Complete(ctx context.Context, id auth.Identity, orderID string) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Complete")
	defer func() { s.finish(ctx, span, "complete", err) }()

	if err := id.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var completed *Order
	err = s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.lockOwned(ctx, tx, id, orderID)
		if err != nil {
			return err
		}
		if err := o.Complete(s.now()); err != nil {
			return err
		}
		if err := NewGuard(tx.Claims()).Release(ctx, o.BuyerID, o.ID); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		completed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, EventCompleted, completed)
	return completed, nil
}

func (s *Service) lockOwned(ctx context.Context, tx Tx, id auth.Identity, orderID string) (*Order, error) {
	o, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(id, o); err != nil {
		return nil, err
	}
	return o, nil
}

// price computes discount and total of o from its items, applying code
// when it is not empty.
func (s *Service) price(ctx context.Context, tx Tx, o *Order, code string) error {
	subtotal := o.Subtotal()
	o.PromoCode = ""
	o.Discount = decimal.Zero
	if promo.NormalizeCode(code) != "" {
		applied, err := s.promos.Apply(ctx, tx.Promos(), code, subtotal)
		if err != nil {
			return err
		}
		o.PromoCode = applied.Code
		o.Discount = applied.Discount
	}
	o.Total = subtotal.Sub(o.Discount)
	return nil
}

func (s *Service) checkRateLimit(ctx context.Context, tx Tx, buyerID string, typ OperationType, now time.Time) error {
	if s.rateLimit <= 0 {
		return nil
	}
	last, ok, err := tx.Operations().LastAt(ctx, buyerID, typ)
	if err != nil {
		return errors.Wrap(err, "read operation history")
	}
	if ok && now.Sub(last) < s.rateLimit {
		return apperr.Errorf(apperr.OrderLimit, "too many order operations, retry in %s",
			s.rateLimit-now.Sub(last)).WithDetail("operation", string(typ))
	}
	return nil
}

func (s *Service) committed(ctx context.Context, typ EventType, o *Order) {
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("buyer_id", o.BuyerID),
	)
	lg.Info("Order committed",
		zap.String("event", string(typ)),
		zap.String("status", string(o.Status)),
		zap.String("total", s.money.Format(o.Total)),
	)
	if err := s.events.Publish(ctx, Event{Type: typ, Order: *o, OccurredAt: o.UpdatedAt}); err != nil {
		lg.Warn("Publish order event", zap.String("event", string(typ)), zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()

	result := "OK"
	if err != nil {
		code := apperr.CodeOf(err)
		result = string(code)
		span.RecordError(err)
		if code == apperr.Internal {
			span.SetStatus(codes.Error, err.Error())
			zctx.From(ctx).Error("Order operation failed", zap.String("op", op), zap.Error(err))
		} else {
			zctx.From(ctx).Debug("Order operation rejected", zap.String("op", op), zap.String("code", result))
		}
	}
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func authorize(id auth.Identity, o *Order) error {
	if id.IsAdmin() || o.BuyerID == id.UserID {
		return nil
	}
	return apperr.New(apperr.AccessDenied, "order belongs to another buyer")
}

// normalizeItems validates requested items and merges duplicate products.
// The result is sorted by ascending product id.
func normalizeItems(items []ItemInput) ([]stock.Line, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.Validation, "order must contain at least one item")
	}
	qty := make(map[int64]int, len(items))
	for i, it := range items {
		if it.ProductID <= 0 {
			return nil, apperr.Errorf(apperr.Validation, "items[%d]: product_id must be positive", i)
		}
		if it.Quantity < 1 {
			return nil, apperr.Errorf(apperr.Validation, "items[%d]: quantity must be at least 1", i)
		}
		if it.Quantity > MaxQuantity || qty[it.ProductID] > MaxQuantity-it.Quantity {
			return nil, apperr.Errorf(apperr.Validation, "items[%d]: quantity of product %d exceeds %d",
				i, it.ProductID, MaxQuantity).WithDetail("product_id", it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	ids := lo.Keys(qty)
	slices.Sort(ids)
	return lo.Map(ids, func(id int64, _ int) stock.Line {
		return stock.Line{ProductID: id, Quantity: qty[id]}
	}), nil
}

// rebalance moves stock from the current items to the requested lines and
// returns the new items. Lines for products already in the order keep their
// price snapshot; new products are priced from the locked row.
func rebalance(ctx context.Context, ledger *stock.Ledger, current []Item, lines []stock.Line) ([]Item, error) {
	before := lo.KeyBy(current, func(it Item) int64 { return it.ProductID })
	ids := lo.Map(current, func(it Item, _ int) int64 { return it.ProductID })
	ids = append(ids, lo.Map(lines, func(ln stock.Line, _ int) int64 { return ln.ProductID })...)
	if err := ledger.Lock(ctx, ids...); err != nil {
		return nil, err
	}
	for _, it := range current {
		ledger.Hold(it.ProductID, it.Quantity)
	}

	after := make(map[int64]int, len(lines))
	var grow, shrink []stock.Line
	for _, ln := range lines {
		after[ln.ProductID] = ln.Quantity
		if d := ln.Quantity - before[ln.ProductID].Quantity; d > 0 {
			grow = append(grow, stock.Line{ProductID: ln.ProductID, Quantity: d})
		}
	}
	for _, it := range current {
		if d := it.Quantity - after[it.ProductID]; d > 0 {
			shrink = append(shrink, stock.Line{ProductID: it.ProductID, Quantity: d})
		}
	}

	if err := ledger.ReleaseAll(ctx, shrink); err != nil {
		return nil, err
	}
	if len(grow) > 0 {
		if _, err := ledger.ReserveAll(ctx, grow); err != nil {
			return nil, err
		}
	}

	items := make([]Item, len(lines))
	for i, ln := range lines {
		prev, kept := before[ln.ProductID]
		price := prev.UnitPrice
		if !kept {
			p, _ := ledger.Product(ln.ProductID)
			price = p.Price
		}
		items[i] = Item{ProductID: ln.ProductID, Quantity: ln.Quantity, UnitPrice: price}
	}
	return items, nil
}

// Package checkout drives carts from BUILDING to a committed sale and back
// out again through void.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pos_engine/internal/events"
	"pos_engine/internal/inventory"
	"pos_engine/internal/pricing"
	"pos_engine/internal/sales"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "pos_engine/checkout"

// VoidResult is returned by Void. AlreadyVoided is set when the sale had
// been voided by an earlier call.
type VoidResult struct {
	Sale          *sales.Sale `json:"sale"`
	AlreadyVoided bool        `json:"already_voided"`
}

// Service is the transaction core. It is safe for concurrent use; each cart
// is guarded by its own mutex and stock changes are serialized by the store.
type Service struct {
	store     inventory.Store
	sales     *sales.Service
	rates     pricing.RateConfig
	logger    *zap.Logger
	publisher events.Publisher
	tracer    trace.Tracer
	now       func() time.Time
	node      *snowflake.Node
	retry     RetryPolicy

	mu    sync.RWMutex
	carts map[string]*cart

	pendingMu sync.Mutex
	pending   map[string]*sales.Sale
	// restored holds voids whose stock is back but whose sale is still VOIDING.
	restored map[string]struct{}
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock replaces time.Now for sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithNode sets the snowflake node that numbers sales. Terminals sharing a
// database need distinct nodes.
func WithNode(n *snowflake.Node) Option {
	return func(s *Service) { s.node = n }
}

// NewService creates a new Service.
func NewService(store inventory.Store, salesService *sales.Service, rates pricing.RateConfig, logger *zap.Logger, opts ...Option) (*Service, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		sales:     salesService,
		rates:     rates,
		logger:    logger,
		publisher: events.NopPublisher{},
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
		retry:     DefaultRetryPolicy(),
		carts:     map[string]*cart{},
		pending:   map[string]*sales.Sale{},
		restored:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.node == nil {
		node, err := snowflake.NewNode(0)
		if err != nil {
			return nil, fmt.Errorf("create sale number node: %w", err)
		}
		s.node = node
	}
	return s, nil
}

// StartCheckout opens a new empty cart and returns its handle.
func (s *Service) StartCheckout(_ context.Context) string {
	c := &cart{
		id:        uuid.NewString(),
		state:     StateBuilding,
		lines:     []CartLine{},
		createdAt: s.now(),
	}
	s.mu.Lock()
	s.carts[c.id] = c
	s.mu.Unlock()

	s.logger.Debug("checkout started", zap.String("cart_id", c.id))
	return c.id
}

func (s *Service) cart(handle string) (*cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[handle]
	if !ok {
		return nil, ErrCartNotFound
	}
	return c, nil
}

// building runs fn with the cart locked, provided the cart is still BUILDING.
func (s *Service) building(handle string, fn func(c *cart) error) error {
	c, err := s.cart(handle)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBuilding {
		return fmt.Errorf("%w: cart is %s", ErrCartNotBuilding, c.state)
	}
	return fn(c)
}

func validQuantity(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return nil
}

// AddLine appends a line and returns its id. The barcode must exist; stock
// is only checked at Finalize.
func (s *Service) AddLine(ctx context.Context, handle, barcode string, quantity int, discount pricing.Discount) (string, error) {
	if err := validQuantity(quantity); err != nil {
		return "", err
	}
	if err := discount.Validate(); err != nil {
		return "", err
	}
	if _, err := s.cart(handle); err != nil {
		return "", err
	}
	if _, err := s.store.GetProduct(ctx, barcode); err != nil {
		return "", err
	}

	line := CartLine{ID: uuid.NewString(), Barcode: barcode, Quantity: quantity, Discount: discount}
	err := s.building(handle, func(c *cart) error {
		c.lines = append(c.lines, line)
		return nil
	})
	if err != nil {
		return "", err
	}
	return line.ID, nil
}

func (s *Service) RemoveLine(_ context.Context, handle, lineID string) error {
	return s.building(handle, func(c *cart) error {
		i := c.lineIndex(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return nil
	})
}

func (s *Service) UpdateQuantity(_ context.Context, handle, lineID string, quantity int) error {
	if err := validQuantity(quantity); err != nil {
		return err
	}
	return s.building(handle, func(c *cart) error {
		i := c.lineIndex(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		c.lines[i].Quantity = quantity
		return nil
	})
}

func (s *Service) SetCartDiscount(_ context.Context, handle string, discount pricing.Discount) error {
	if err := discount.Validate(); err != nil {
		return err
	}
	return s.building(handle, func(c *cart) error {
		c.discount = discount
		return nil
	})
}

// Cart returns a copy of the cart behind handle.
func (s *Service) Cart(_ context.Context, handle string) (CartView, error) {
	c, err := s.cart(handle)
	if err != nil {
		return CartView{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view(), nil
}

// Discard forgets a cart. A committed sale is not affected.
func (s *Service) Discard(_ context.Context, handle string) error {
	c, err := s.cart(handle)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s.mu.Lock()
	delete(s.carts, handle)
	s.mu.Unlock()
	return nil
}

// snapshot resolves every line against the store. The first line that fails
// validation is reported as a *LineError.
func (s *Service) snapshot(ctx context.Context, lines []CartLine, discount pricing.Discount) (pricing.Cart, error) {
	out := pricing.Cart{Lines: make([]pricing.Line, 0, len(lines)), Discount: discount}
	for i, l := range lines {
		if err := validQuantity(l.Quantity); err != nil {
			return pricing.Cart{}, &LineError{Index: i, LineID: l.ID, Barcode: l.Barcode, Err: err}
		}
		p, err := s.store.GetProduct(ctx, l.Barcode)
		if errors.Is(err, inventory.ErrNotFound) {
			return pricing.Cart{}, &LineError{Index: i, LineID: l.ID, Barcode: l.Barcode, Err: err}
		}
		if err != nil {
			return pricing.Cart{}, err
		}
		out.Lines = append(out.Lines, pricing.Line{
			Barcode:   p.Barcode,
			Name:      p.Name,
			UnitPrice: p.Price,
			Category:  p.Category,
			Quantity:  l.Quantity,
			Discount:  l.Discount,
		})
	}
	return out, nil
}

// Quote prices the current lines without freezing the cart.
func (s *Service) Quote(ctx context.Context, handle string) (pricing.PricedCart, error) {
	c, err := s.cart(handle)
	if err != nil {
		return pricing.PricedCart{}, err
	}
	c.mu.Lock()
	lines := append([]CartLine(nil), c.lines...)
	discount := c.discount
	c.mu.Unlock()

	snap, err := s.snapshot(ctx, lines, discount)
	if err != nil {
		return pricing.PricedCart{}, err
	}
	return pricing.Compute(snap, s.rates)
}

// Finalize freezes the cart, commits its stock and records the sale.
//
// Finalizing a COMMITTED cart returns the sale it produced. A FAILED cart
// returns ErrCartClosed. When the stock was committed but the sale could not
// be stored, the sale is returned together with a *ReconcileError.
func (s *Service) Finalize(ctx context.Context, handle, paymentMethod string) (*sales.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.finalize", trace.WithAttributes(attribute.String("cart.id", handle)))
	defer span.End()

	sale, err := s.finalize(ctx, handle, paymentMethod)
	if sale != nil {
		span.SetAttributes(attribute.String("sale.id", sale.ID), attribute.String("sale.grand_total", sale.GrandTotal.String()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return sale, err
}

func (s *Service) finalize(ctx context.Context, handle, paymentMethod string) (*sales.Sale, error) {
	c, err := s.cart(handle)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateCommitted:
		if s.isPending(c.sale.ID) {
			return c.sale.Clone(), &ReconcileError{Sale: c.sale.Clone(), Err: ErrPendingReconciliation}
		}
		return c.sale.Clone(), nil
	case StateFailed:
		return nil, fmt.Errorf("%w: %v", ErrCartClosed, c.failure)
	}

	method := strings.ToLower(strings.TrimSpace(paymentMethod))
	if method == "" {
		return nil, ErrPaymentMethodRequired
	}
	if len(c.lines) == 0 {
		return nil, ErrEmptyCart
	}

	c.state = StatePricing
	snap, err := s.snapshot(ctx, c.lines, c.discount)
	if err != nil {
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			return nil, c.fail(err)
		}
		// The store could not answer; nothing was changed, so the cashier may try again.
		c.state = StateBuilding
		return nil, err
	}
	priced, err := pricing.Compute(snap, s.rates)
	if err != nil {
		return nil, c.fail(err)
	}

	c.state = StateCommitting
	deductions := aggregate(c.lines)
	if err := s.commitStock(ctx, deductions); err != nil {
		s.logger.Warn("checkout failed",
			zap.String("cart_id", c.id),
			zap.Error(err),
		)
		return nil, c.fail(err)
	}

	now := s.now()
	sale := &sales.Sale{
		ID:            uuid.NewString(),
		Number:        s.node.Generate().Int64(),
		CartID:        c.id,
		Lines:         sales.LinesFromPriced(priced.Lines),
		Subtotal:      priced.Subtotal,
		DiscountTotal: priced.DiscountTotal,
		Tax:           priced.Tax,
		GrandTotal:    priced.GrandTotal,
		PaymentMethod: method,
		Status:        sales.StatusCommitted,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	c.state = StateCommitted
	c.sale = sale

	// Stock is gone; recording the sale must not depend on the caller staying.
	detached := context.WithoutCancel(ctx)
	if err := s.persist(detached, sale); err != nil {
		s.park(detached, sale, err)
		return sale.Clone(), &ReconcileError{Sale: sale.Clone(), Err: err}
	}
	s.publish(detached, events.New(events.SaleCommitted, sale, now))
	return sale.Clone(), nil
}

func (s *Service) commitStock(ctx context.Context, deductions map[string]int) error {
	ctx, span := s.tracer.Start(ctx, "inventory.reserve_and_commit", trace.WithAttributes(attribute.Int("inventory.barcodes", len(deductions))))
	defer span.End()

	attempts := 0
	err := s.retry.retryBusy(ctx, func() error {
		attempts++
		return s.store.ReserveAndCommit(ctx, deductions)
	})
	span.SetAttributes(attribute.Int("inventory.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) persist(ctx context.Context, sale *sales.Sale) error {
	return s.retry.retryPersist(ctx, func() error {
		return s.sales.Record(ctx, sale)
	})
}

// park queues a sale whose stock is committed but whose record is not stored.
func (s *Service) park(ctx context.Context, sale *sales.Sale, cause error) {
	s.pendingMu.Lock()
	s.pending[sale.ID] = sale.Clone()
	s.pendingMu.Unlock()

	s.logger.Error("sale committed but not persisted, queued for reconciliation",
		zap.String("sale_id", sale.ID),
		zap.String("cart_id", sale.CartID),
		zap.Error(cause),
	)
	e := events.New(events.SaleReconcile, sale, s.now())
	e.Error = cause.Error()
	s.publish(ctx, e)
}

func (s *Service) isPending(id string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// PendingReconciliation lists the sales waiting to be persisted, oldest first.
func (s *Service) PendingReconciliation() []*sales.Sale {
	s.pendingMu.Lock()
	out := make([]*sales.Sale, 0, len(s.pending))
	for _, sale := range s.pending {
		out = append(out, sale.Clone())
	}
	s.pendingMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// PendingVoids lists the ids of voids whose stock was restored but whose
// sale is still VOIDING.
func (s *Service) PendingVoids() []string {
	s.pendingMu.Lock()
	ids := make([]string, 0, len(s.restored))
	for id := range s.restored {
		ids = append(ids, id)
	}
	s.pendingMu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Service) isRestored(id string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	_, ok := s.restored[id]
	return ok
}

// Reconcile tries to persist every parked sale and to finish every pending
// void. It returns how many were completed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	var errs error
	stored := 0
	for _, id := range s.PendingVoids() {
		if _, err := s.completeVoid(ctx, id); err != nil {
			errs = errors.Join(errs, fmt.Errorf("void %s: %w", id, err))
			continue
		}
		stored++
	}
	for _, sale := range s.PendingReconciliation() {
		if err := s.sales.Record(ctx, sale); err != nil {
			errs = errors.Join(errs, fmt.Errorf("sale %s: %w", sale.ID, err))
			continue
		}
		s.pendingMu.Lock()
		delete(s.pending, sale.ID)
		s.pendingMu.Unlock()
		stored++

		s.logger.Info("sale reconciled", zap.String("sale_id", sale.ID))
		s.publish(ctx, events.New(events.SaleCommitted, sale, s.now()))
	}
	return stored, errs
}

// GetSale returns a stored sale, or a parked one awaiting reconciliation.
func (s *Service) GetSale(ctx context.Context, id string) (*sales.Sale, error) {
	s.pendingMu.Lock()
	parked, ok := s.pending[id]
	s.pendingMu.Unlock()
	if ok {
		return parked.Clone(), nil
	}
	return s.sales.Get(ctx, id)
}

// Void reverses a committed sale and puts its stock back.
func (s *Service) Void(ctx context.Context, saleID string) (VoidResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.void", trace.WithAttributes(attribute.String("sale.id", saleID)))
	defer span.End()

	res, err := s.void(ctx, saleID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("sale.already_voided", res.AlreadyVoided))
	return res, err
}

func (s *Service) void(ctx context.Context, saleID string) (VoidResult, error) {
	if s.isPending(saleID) {
		return VoidResult{}, ErrPendingReconciliation
	}
	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return VoidResult{}, err
	}

	switch sale.Status {
	case sales.StatusVoided:
		return VoidResult{Sale: sale, AlreadyVoided: true}, nil
	case sales.StatusVoiding:
		if s.isRestored(saleID) {
			return s.completeVoid(ctx, saleID)
		}
		return VoidResult{}, ErrVoidInProgress
	}

	sale, err = s.sales.UpdateSaleStatus(ctx, saleID, sales.StatusCommitted, sales.StatusVoiding)
	if errors.Is(err, sales.ErrStatusConflict) {
		current, getErr := s.sales.Get(ctx, saleID)
		if getErr == nil && current.Status == sales.StatusVoided {
			return VoidResult{Sale: current, AlreadyVoided: true}, nil
		}
		return VoidResult{}, ErrVoidInProgress
	}
	if err != nil {
		return VoidResult{}, err
	}

	var skipped []string
	err = s.retry.retryBusy(ctx, func() error {
		var restoreErr error
		skipped, restoreErr = s.store.Restore(ctx, sale.Deductions())
		return restoreErr
	})
	if err != nil {
		s.logger.Error("void failed to restore stock", zap.String("sale_id", saleID), zap.Error(err))
		// The caller's context may be gone; the revert must still happen.
		revertCtx := context.WithoutCancel(ctx)
		if _, revertErr := s.sales.UpdateSaleStatus(revertCtx, saleID, sales.StatusVoiding, sales.StatusCommitted); revertErr != nil {
			s.logger.Error("failed to revert voiding sale", zap.String("sale_id", saleID), zap.Error(revertErr))
		}
		return VoidResult{}, err
	}
	if len(skipped) > 0 {
		s.logger.Warn("void skipped deleted products", zap.String("sale_id", saleID), zap.Strings("barcodes", skipped))
	}

	s.pendingMu.Lock()
	s.restored[saleID] = struct{}{}
	s.pendingMu.Unlock()

	// Stock is back; the status write must not depend on the caller staying.
	res, err := s.completeVoid(context.WithoutCancel(ctx), saleID)
	if err != nil {
		s.logger.Error("stock restored but sale left in VOIDING, queued for reconciliation",
			zap.String("sale_id", saleID), zap.Error(err))
		return VoidResult{}, err
	}
	return res, nil
}

// completeVoid moves a sale whose stock was already restored from VOIDING to
// VOIDED. It never touches stock.
func (s *Service) completeVoid(ctx context.Context, saleID string) (VoidResult, error) {
	var voided *sales.Sale
	err := s.retry.retryPersist(ctx, func() error {
		var updateErr error
		voided, updateErr = s.sales.UpdateSaleStatus(ctx, saleID, sales.StatusVoiding, sales.StatusVoided)
		if errors.Is(updateErr, sales.ErrStatusConflict) || errors.Is(updateErr, sales.ErrNotFound) {
			return backoff.Permanent(updateErr)
		}
		return updateErr
	})
	if errors.Is(err, sales.ErrStatusConflict) {
		// Someone else finished it.
		current, getErr := s.sales.Get(ctx, saleID)
		if getErr == nil && current.Status == sales.StatusVoided {
			s.forgetRestored(saleID)
			return VoidResult{Sale: current, AlreadyVoided: true}, nil
		}
	}
	if errors.Is(err, sales.ErrNotFound) {
		s.forgetRestored(saleID)
	}
	if err != nil {
		return VoidResult{}, err
	}
	s.forgetRestored(saleID)

	s.logger.Info("sale voided", zap.String("sale_id", saleID), zap.Int64("number", voided.Number))
	s.publish(ctx, events.New(events.SaleVoided, voided, voided.UpdatedAt))
	return VoidResult{Sale: voided}, nil
}

func (s *Service) forgetRestored(id string) {
	s.pendingMu.Lock()
	delete(s.restored, id)
	s.pendingMu.Unlock()
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish sale event",
			zap.String("type", string(e.Type)),
			zap.String("sale_id", e.SaleID),
			zap.Error(err),
		)
	}
}

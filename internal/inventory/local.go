package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// entry guards one product. lock is a one-slot channel so acquisition can
// give up after a deadline.
type entry struct {
	lock    chan struct{}
	product Product
	deleted bool
}

func newEntry(p Product) *entry {
	return &entry{lock: make(chan struct{}, 1), product: p}
}

func (e *entry) unlock() {
	<-e.lock
}

// LocalStorage provides an in-memory Store with per-barcode locking.
type LocalStorage struct {
	mu          sync.RWMutex
	m           map[string]*entry
	lockTimeout time.Duration
}

// NewLocalStorage instantiates a new LocalStorage with an empty product map.
func NewLocalStorage(opts ...Option) *LocalStorage {
	o := buildOptions(opts)
	return &LocalStorage{
		m:           map[string]*entry{},
		lockTimeout: o.lockTimeout,
	}
}

// acquire takes the locks of entries in order. All acquisitions share one
// deadline; on expiry every lock taken so far is released and ErrBusy is
// returned.
func (l *LocalStorage) acquire(ctx context.Context, entries []*entry) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	for i, e := range entries {
		select {
		case e.lock <- struct{}{}:
		case <-waitCtx.Done():
			for _, held := range entries[:i] {
				held.unlock()
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrBusy
		}
	}
	return func() {
		for _, e := range entries {
			e.unlock()
		}
	}, nil
}

// lockBarcodes locks the entries of barcodes, which must already be sorted.
// Missing or deleted barcodes fail with *NotFoundError unless skipMissing is
// set, in which case they are returned separately.
func (l *LocalStorage) lockBarcodes(ctx context.Context, barcodes []string, skipMissing bool) ([]*entry, []string, func(), error) {
	var skipped []string
	entries := make([]*entry, 0, len(barcodes))

	l.mu.RLock()
	for _, barcode := range barcodes {
		e, ok := l.m[barcode]
		if !ok {
			if !skipMissing {
				l.mu.RUnlock()
				return nil, nil, nil, &NotFoundError{Barcode: barcode}
			}
			skipped = append(skipped, barcode)
			continue
		}
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	unlock, err := l.acquire(ctx, entries)
	if err != nil {
		return nil, nil, nil, err
	}

	// A concurrent Delete may have won the lock first.
	live := entries[:0:0]
	for _, e := range entries {
		if !e.deleted {
			live = append(live, e)
			continue
		}
		if !skipMissing {
			unlock()
			return nil, nil, nil, &NotFoundError{Barcode: e.product.Barcode}
		}
		skipped = append(skipped, e.product.Barcode)
	}
	sort.Strings(skipped)
	return live, skipped, unlock, nil
}

func (l *LocalStorage) GetProduct(ctx context.Context, barcode string) (Product, error) {
	entries, _, unlock, err := l.lockBarcodes(ctx, []string{barcode}, false)
	if err != nil {
		return Product{}, err
	}
	defer unlock()
	return entries[0].product, nil
}

func (l *LocalStorage) GetQuantity(ctx context.Context, barcode string) (int, error) {
	p, err := l.GetProduct(ctx, barcode)
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

func (l *LocalStorage) ReserveAndCommit(ctx context.Context, deductions map[string]int) error {
	if err := validateDeductions(deductions); err != nil {
		return err
	}
	entries, _, unlock, err := l.lockBarcodes(ctx, sortedBarcodes(deductions), false)
	if err != nil {
		return err
	}
	defer unlock()

	for _, e := range entries {
		requested := deductions[e.product.Barcode]
		if e.product.Quantity < requested {
			return &InsufficientStockError{
				Barcode:   e.product.Barcode,
				Available: e.product.Quantity,
				Requested: requested,
			}
		}
	}
	for _, e := range entries {
		e.product.Quantity -= deductions[e.product.Barcode]
	}
	return nil
}

func (l *LocalStorage) Restore(ctx context.Context, deductions map[string]int) ([]string, error) {
	if err := validateDeductions(deductions); err != nil {
		return nil, err
	}
	entries, skipped, unlock, err := l.lockBarcodes(ctx, sortedBarcodes(deductions), true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, e := range entries {
		e.product.Quantity += deductions[e.product.Barcode]
	}
	return skipped, nil
}

func (l *LocalStorage) Upsert(ctx context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[p.Barcode]
	if !ok {
		l.m[p.Barcode] = newEntry(p)
		return nil
	}
	unlock, err := l.acquire(ctx, []*entry{e})
	if err != nil {
		return err
	}
	defer unlock()
	e.product = p
	return nil
}

func (l *LocalStorage) Delete(ctx context.Context, barcode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[barcode]
	if !ok {
		return &NotFoundError{Barcode: barcode}
	}
	unlock, err := l.acquire(ctx, []*entry{e})
	if err != nil {
		return err
	}
	defer unlock()
	e.deleted = true
	delete(l.m, barcode)
	return nil
}

// List returns every product sorted by barcode.
func (l *LocalStorage) List(ctx context.Context) ([]Product, error) {
	l.mu.RLock()
	barcodes := make([]string, 0, len(l.m))
	for barcode := range l.m {
		barcodes = append(barcodes, barcode)
	}
	l.mu.RUnlock()
	sort.Strings(barcodes)

	products := make([]Product, 0, len(barcodes))
	for _, barcode := range barcodes {
		p, err := l.GetProduct(ctx, barcode)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (l *LocalStorage) Search(ctx context.Context, keyword string) ([]Product, error) {
	all, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	found := make([]Product, 0)
	for _, p := range all {
		if matches(p, keyword) {
			found = append(found, p)
		}
	}
	return found, nil
}

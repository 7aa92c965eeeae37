package sales

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a sale with the given ID is not found.
var ErrNotFound = errors.New("sale not found")

// ErrEmptyID is returned when trying to store a sale with an empty ID.
var ErrEmptyID = errors.New("empty sale ID")

// ErrStatusConflict is returned by CompareAndSetStatus when the stored status
// is not the expected one.
var ErrStatusConflict = errors.New("sale status changed concurrently")

// Storage is the main interface for our sales storage layer.
type Storage interface {
	// Set stores a new sale. Storing an ID that already exists is a no-op,
	// so a retried write never duplicates or overwrites a sale.
	Set(ctx context.Context, sale *Sale) error
	Read(ctx context.Context, id string) (*Sale, error)
	GetAll(ctx context.Context) ([]*Sale, error)
	// Between returns sales created in [start, end] ordered by creation
	// time, then number.
	Between(ctx context.Context, start, end time.Time) ([]*Sale, error)
	// CompareAndSetStatus moves a sale from one status to another, bumping
	// its version. ErrStatusConflict if the sale is not in from.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Sale, error)
}

// LocalStorage provides an in-memory implementation for storing sales.
type LocalStorage struct {
	mu sync.RWMutex
	m  map[string]*Sale
}

// NewLocalStorage instantiates a new LocalStorage for sales with an empty map.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m: map[string]*Sale{},
	}
}

// Returns ErrEmptyID if the sale has an empty ID.
func (l *LocalStorage) Set(_ context.Context, sale *Sale) error {
	if sale.ID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m[sale.ID]; ok {
		return nil
	}
	l.m[sale.ID] = sale.Clone()
	return nil
}

// Read retrieves a sale from the local storage by ID.
// Returns ErrNotFound if the sale is not found.
func (l *LocalStorage) Read(_ context.Context, id string) (*Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// GetAll retrieves all sales ordered by creation time.
func (l *LocalStorage) GetAll(_ context.Context) ([]*Sale, error) {
	l.mu.RLock()
	sales := make([]*Sale, 0, len(l.m))
	for _, s := range l.m {
		sales = append(sales, s.Clone())
	}
	l.mu.RUnlock()
	sortSales(sales)
	return sales, nil
}

func (l *LocalStorage) Between(_ context.Context, start, end time.Time) ([]*Sale, error) {
	l.mu.RLock()
	sales := make([]*Sale, 0)
	for _, s := range l.m {
		if s.CreatedAt.Before(start) || s.CreatedAt.After(end) {
			continue
		}
		sales = append(sales, s.Clone())
	}
	l.mu.RUnlock()
	sortSales(sales)
	return sales, nil
}

func (l *LocalStorage) CompareAndSetStatus(_ context.Context, id string, from, to Status, at time.Time) (*Sale, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != from {
		return nil, ErrStatusConflict
	}
	s.Status = to
	s.UpdatedAt = at
	s.Version++
	return s.Clone(), nil
}

func sortSales(sales []*Sale) {
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.Before(sales[j].CreatedAt)
		}
		return sales[i].Number < sales[j].Number
	})
}

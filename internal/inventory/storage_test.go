package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(barcode string, qty int) Product {
	return Product{
		Barcode:           barcode,
		Name:              "Product " + barcode,
		Price:             decimal.RequireFromString("9.99"),
		Quantity:          qty,
		LowStockThreshold: 5,
	}
}

func seed(t *testing.T, s Store, products ...Product) {
	t.Helper()
	for _, p := range products {
		require.NoError(t, s.Upsert(context.Background(), p))
	}
}

func quantity(t *testing.T, s Store, barcode string) int {
	t.Helper()
	q, err := s.GetQuantity(context.Background(), barcode)
	require.NoError(t, err)
	return q
}

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("GetProduct returns NotFound for unknown barcode", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetProduct(ctx, "missing")
		var nf *NotFoundError
		require.True(t, errors.As(err, &nf), "got %v", err)
		assert.Equal(t, "missing", nf.Barcode)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetQuantity(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Upsert creates then replaces", func(t *testing.T) {
		s := newStore(t)
		p := product("001", 10)
		p.Category = "food"
		seed(t, s, p)

		got, err := s.GetProduct(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, "Product 001", got.Name)
		assert.True(t, decimal.RequireFromString("9.99").Equal(got.Price))
		assert.Equal(t, "food", got.Category)

		p.Name = "Renamed"
		p.Quantity = 3
		seed(t, s, p)
		got, err = s.GetProduct(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, 3, got.Quantity)
	})

	t.Run("Upsert rejects invalid products", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Upsert(ctx, product("", 1)), ErrEmptyBarcode)
		assert.ErrorIs(t, s.Upsert(ctx, product("a", -1)), ErrInvalidProduct)
		bad := product("a", 1)
		bad.Price = decimal.RequireFromString("-1")
		assert.ErrorIs(t, s.Upsert(ctx, bad), ErrInvalidProduct)
	})

	t.Run("ReserveAndCommit applies every deduction", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 10), product("002", 4))

		require.NoError(t, s.ReserveAndCommit(ctx, map[string]int{"001": 3, "002": 4}))
		assert.Equal(t, 7, quantity(t, s, "001"))
		assert.Equal(t, 0, quantity(t, s, "002"))
	})

	t.Run("ReserveAndCommit is all or nothing on insufficient stock", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 10), product("002", 4))

		err := s.ReserveAndCommit(ctx, map[string]int{"001": 3, "002": 5})
		var insufficient *InsufficientStockError
		require.True(t, errors.As(err, &insufficient), "got %v", err)
		assert.Equal(t, "002", insufficient.Barcode)
		assert.Equal(t, 4, insufficient.Available)
		assert.Equal(t, 5, insufficient.Requested)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		assert.Equal(t, 10, quantity(t, s, "001"))
		assert.Equal(t, 4, quantity(t, s, "002"))
	})

	t.Run("ReserveAndCommit is all or nothing on unknown barcode", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 10))

		err := s.ReserveAndCommit(ctx, map[string]int{"001": 1, "zzz": 1})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 10, quantity(t, s, "001"))
	})

	t.Run("ReserveAndCommit rejects non-positive quantities", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 10))

		assert.ErrorIs(t, s.ReserveAndCommit(ctx, map[string]int{"001": 0}), ErrInvalidQuantity)
		assert.ErrorIs(t, s.ReserveAndCommit(ctx, map[string]int{"001": -2}), ErrInvalidQuantity)
		assert.Equal(t, 10, quantity(t, s, "001"))
	})

	t.Run("Restore adds back and skips deleted products", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 10), product("002", 1))
		require.NoError(t, s.ReserveAndCommit(ctx, map[string]int{"001": 4, "002": 1}))
		require.NoError(t, s.Delete(ctx, "002"))

		skipped, err := s.Restore(ctx, map[string]int{"001": 4, "002": 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"002"}, skipped)
		assert.Equal(t, 10, quantity(t, s, "001"))
	})

	t.Run("Delete removes the product", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 1))

		require.NoError(t, s.Delete(ctx, "001"))
		_, err := s.GetProduct(ctx, "001")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "001"), ErrNotFound)
	})

	t.Run("List is sorted by barcode and Search matches name or barcode", func(t *testing.T) {
		s := newStore(t)
		milk := product("300", 1)
		milk.Name = "Whole Milk"
		seed(t, s, product("200", 1), milk, product("100", 1))

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"100", "200", "300"}, []string{all[0].Barcode, all[1].Barcode, all[2].Barcode})

		found, err := s.Search(ctx, "milk")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "300", found[0].Barcode)

		found, err = s.Search(ctx, "20")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "200", found[0].Barcode)
	})

	t.Run("Search treats wildcard characters literally", func(t *testing.T) {
		s := newStore(t)
		juice := product("400", 1)
		juice.Name = "100% Juice"
		snake := product("500", 1)
		snake.Name = "snake_case mug"
		slash := product("600", 1)
		slash.Name = `back\slash`
		seed(t, s, juice, snake, slash, product("700", 1))

		found, err := s.Search(ctx, "%")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "400", found[0].Barcode)

		found, err = s.Search(ctx, "_")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "500", found[0].Barcode)

		found, err = s.Search(ctx, `\`)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "600", found[0].Barcode)

		found, err = s.Search(ctx, "0%")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "400", found[0].Barcode)
	})

	t.Run("concurrent commits never oversell", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, product("001", 10), product("002", 10))

		const workers = 20
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Alternate key order in the map literal; locking order is fixed by the store.
				d := map[string]int{"001": 1, "002": 1}
				if i%2 == 0 {
					d = map[string]int{"002": 1, "001": 1}
				}
				err := s.ReserveAndCommit(ctx, d)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrInsufficientStock), fmt.Sprintf("unexpected error %v", err))
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)
		assert.Equal(t, 0, quantity(t, s, "001"))
		assert.Equal(t, 0, quantity(t, s, "002"))
	})
}

func TestLocalStorage(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewLocalStorage()
	})
}

func TestLocalStorage_BusyWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(WithLockTimeout(20 * time.Millisecond))
	seed(t, s, product("001", 10), product("002", 10))

	// Hold the lock of 002 as an in-flight commit would.
	entries, _, unlock, err := s.lockBarcodes(ctx, []string{"002"}, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	err = s.ReserveAndCommit(ctx, map[string]int{"001": 1, "002": 1})
	assert.ErrorIs(t, err, ErrBusy)
	unlock()

	// The lock on 001 taken before the timeout must have been released.
	assert.Equal(t, 10, quantity(t, s, "001"))
	require.NoError(t, s.ReserveAndCommit(ctx, map[string]int{"001": 1, "002": 1}))
	assert.Equal(t, 9, quantity(t, s, "001"))
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	s := NewLocalStorage()
	seed(t, s, product("001", 10))

	_, _, unlock, err := s.lockBarcodes(context.Background(), []string{"001"}, false)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.ReserveAndCommit(ctx, map[string]int{"001": 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProduct_IsLowStock(t *testing.T) {
	assert.True(t, product("a", 4).IsLowStock(5))
	assert.True(t, product("a", 5).IsLowStock(5))
	assert.False(t, product("a", 6).IsLowStock(5))
	assert.True(t, decimal.RequireFromString("29.97").Equal(product("a", 3).StockValue()))
}

func TestTimeoutMillis(t *testing.T) {
	assert.Equal(t, int64(1), timeoutMillis(time.Nanosecond))
	assert.Equal(t, int64(1), timeoutMillis(500*time.Microsecond))
	assert.Equal(t, int64(1), timeoutMillis(time.Millisecond))
	assert.Equal(t, int64(2), timeoutMillis(1500*time.Microsecond))
	assert.Equal(t, int64(2000), timeoutMillis(2*time.Second))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%milk%", likePattern("milk"))
	assert.Equal(t, `%100\%%`, likePattern("100%"))
	assert.Equal(t, `%a\_b%`, likePattern("a_b"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}

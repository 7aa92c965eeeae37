package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	barcode             TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	price               TEXT NOT NULL,
	quantity            INTEGER NOT NULL CHECK (quantity >= 0),
	low_stock_threshold INTEGER NOT NULL DEFAULT 0,
	category            TEXT NOT NULL DEFAULT ''
)`

// SQLiteStore is a Store backed by a SQLite database opened with
// database.OpenSQLite.
type SQLiteStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewSQLiteStore creates the products table if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create products table: %w", err)
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: db, lockTimeout: o.lockTimeout}, nil
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// classify turns lock waits that ran past the store deadline into ErrBusy,
// leaving cancellation of the caller's own context untouched.
func (s *SQLiteStore) classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || isSQLiteBusy(err) {
		return ErrBusy
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	var price string
	if err := row.Scan(&p.Barcode, &p.Name, &price, &p.Quantity, &p.LowStockThreshold, &p.Category); err != nil {
		return Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("product %q has malformed price %q: %w", p.Barcode, price, err)
	}
	p.Price = d
	return p, nil
}

const selectProduct = `SELECT barcode, name, price, quantity, low_stock_threshold, category FROM products`

func (s *SQLiteStore) GetProduct(ctx context.Context, barcode string) (Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, selectProduct+` WHERE barcode = ?`, barcode))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, &NotFoundError{Barcode: barcode}
	}
	if err != nil {
		return Product{}, s.classify(ctx, err)
	}
	return p, nil
}

func (s *SQLiteStore) GetQuantity(ctx context.Context, barcode string) (int, error) {
	p, err := s.GetProduct(ctx, barcode)
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

func (s *SQLiteStore) ReserveAndCommit(ctx context.Context, deductions map[string]int) error {
	if err := validateDeductions(deductions); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(waitCtx, nil)
	if err != nil {
		return s.classify(ctx, err)
	}
	defer tx.Rollback()

	barcodes := sortedBarcodes(deductions)
	for _, barcode := range barcodes {
		var available int
		err := tx.QueryRowContext(waitCtx, `SELECT quantity FROM products WHERE barcode = ?`, barcode).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Barcode: barcode}
		}
		if err != nil {
			return s.classify(ctx, err)
		}
		if available < deductions[barcode] {
			return &InsufficientStockError{Barcode: barcode, Available: available, Requested: deductions[barcode]}
		}
	}
	for _, barcode := range barcodes {
		if _, err := tx.ExecContext(waitCtx, `UPDATE products SET quantity = quantity - ? WHERE barcode = ?`, deductions[barcode], barcode); err != nil {
			return s.classify(ctx, err)
		}
	}
	return s.classify(ctx, tx.Commit())
}

func (s *SQLiteStore) Restore(ctx context.Context, deductions map[string]int) ([]string, error) {
	if err := validateDeductions(deductions); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(waitCtx, nil)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer tx.Rollback()

	var skipped []string
	for _, barcode := range sortedBarcodes(deductions) {
		res, err := tx.ExecContext(waitCtx, `UPDATE products SET quantity = quantity + ? WHERE barcode = ?`, deductions[barcode], barcode)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			skipped = append(skipped, barcode)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, s.classify(ctx, err)
	}
	return skipped, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (barcode, name, price, quantity, low_stock_threshold, category)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(barcode) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			quantity = excluded.quantity,
			low_stock_threshold = excluded.low_stock_threshold,
			category = excluded.category`,
		p.Barcode, p.Name, p.Price.String(), p.Quantity, p.LowStockThreshold, p.Category)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", p.Barcode, s.classify(ctx, err))
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, barcode string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE barcode = ?`, barcode)
	if err != nil {
		return s.classify(ctx, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Barcode: barcode}
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context) ([]Product, error) {
	return s.query(ctx, selectProduct+` ORDER BY barcode`)
}

func (s *SQLiteStore) Search(ctx context.Context, keyword string) ([]Product, error) {
	kw := likePattern(keyword)
	return s.query(ctx, selectProduct+` WHERE name LIKE ? ESCAPE '\' OR barcode LIKE ? ESCAPE '\' ORDER BY barcode`, kw, kw)
}

package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	barcode             TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	price               TEXT NOT NULL,
	quantity            INTEGER NOT NULL CHECK (quantity >= 0),
	low_stock_threshold INTEGER NOT NULL DEFAULT 0,
	category            TEXT NOT NULL DEFAULT ''
)`

// PostgresStore is a Store backed by a pgx pool. Stock rows are locked with
// SELECT ... FOR UPDATE in barcode order.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create products table: %w", err)
	}
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, lockTimeout: o.lockTimeout}, nil
}

func classifyPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001":
			return ErrBusy
		}
	}
	return err
}

func pgProduct(row pgx.Row) (Product, error) {
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

func (s *PostgresStore) GetProduct(ctx context.Context, barcode string) (Product, error) {
	p, err := pgProduct(s.pool.QueryRow(ctx, selectProduct+` WHERE barcode = $1`, barcode))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, &NotFoundError{Barcode: barcode}
	}
	if err != nil {
		return Product{}, classifyPg(err)
	}
	return p, nil
}

func (s *PostgresStore) GetQuantity(ctx context.Context, barcode string) (int, error) {
	p, err := s.GetProduct(ctx, barcode)
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

// lockRows starts a transaction and locks the rows of barcodes. The returned
// map holds the current quantity of every barcode that exists.
func (s *PostgresStore) lockRows(ctx context.Context, barcodes []string) (pgx.Tx, map[string]int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, classifyPg(err)
	}
	lockTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeoutMillis(s.lockTimeout))
	if _, err := tx.Exec(ctx, lockTimeout); err != nil {
		tx.Rollback(ctx)
		return nil, nil, classifyPg(err)
	}

	current, err := lockedQuantities(ctx, tx, barcodes)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, classifyPg(err)
	}
	return tx, current, nil
}

func lockedQuantities(ctx context.Context, tx pgx.Tx, barcodes []string) (map[string]int, error) {
	rows, err := tx.Query(ctx, `SELECT barcode, quantity FROM products WHERE barcode = ANY($1) ORDER BY barcode FOR UPDATE`, barcodes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	current := make(map[string]int, len(barcodes))
	for rows.Next() {
		var barcode string
		var qty int
		if err := rows.Scan(&barcode, &qty); err != nil {
			return nil, err
		}
		current[barcode] = qty
	}
	return current, rows.Err()
}

func (s *PostgresStore) ReserveAndCommit(ctx context.Context, deductions map[string]int) error {
	if err := validateDeductions(deductions); err != nil {
		return err
	}
	barcodes := sortedBarcodes(deductions)
	tx, current, err := s.lockRows(ctx, barcodes)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, barcode := range barcodes {
		available, ok := current[barcode]
		if !ok {
			return &NotFoundError{Barcode: barcode}
		}
		if available < deductions[barcode] {
			return &InsufficientStockError{Barcode: barcode, Available: available, Requested: deductions[barcode]}
		}
	}
	for _, barcode := range barcodes {
		if _, err := tx.Exec(ctx, `UPDATE products SET quantity = quantity - $1 WHERE barcode = $2`, deductions[barcode], barcode); err != nil {
			return classifyPg(err)
		}
	}
	return classifyPg(tx.Commit(ctx))
}

func (s *PostgresStore) Restore(ctx context.Context, deductions map[string]int) ([]string, error) {
	if err := validateDeductions(deductions); err != nil {
		return nil, err
	}
	barcodes := sortedBarcodes(deductions)
	tx, current, err := s.lockRows(ctx, barcodes)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var skipped []string
	for _, barcode := range barcodes {
		if _, ok := current[barcode]; !ok {
			skipped = append(skipped, barcode)
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET quantity = quantity + $1 WHERE barcode = $2`, deductions[barcode], barcode); err != nil {
			return nil, classifyPg(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPg(err)
	}
	return skipped, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (barcode, name, price, quantity, low_stock_threshold, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (barcode) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			category = EXCLUDED.category`,
		p.Barcode, p.Name, p.Price.String(), p.Quantity, p.LowStockThreshold, p.Category)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", p.Barcode, classifyPg(err))
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, barcode string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE barcode = $1`, barcode)
	if err != nil {
		return classifyPg(err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Barcode: barcode}
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPg(err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := pgProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) List(ctx context.Context) ([]Product, error) {
	return s.query(ctx, selectProduct+` ORDER BY barcode`)
}

func (s *PostgresStore) Search(ctx context.Context, keyword string) ([]Product, error) {
	kw := likePattern(keyword)
	return s.query(ctx, selectProduct+` WHERE name ILIKE $1 ESCAPE '\' OR barcode ILIKE $1 ESCAPE '\' ORDER BY barcode`, kw)
}

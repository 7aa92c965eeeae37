package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sales (
	id             TEXT PRIMARY KEY,
	number         BIGINT NOT NULL,
	cart_id        TEXT NOT NULL,
	created_at     BIGINT NOT NULL,
	updated_at     BIGINT NOT NULL,
	subtotal       TEXT NOT NULL,
	discount_total TEXT NOT NULL,
	tax            TEXT NOT NULL,
	grand_total    TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	status         TEXT NOT NULL,
	version        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sales_created_at ON sales (created_at, number);
CREATE TABLE IF NOT EXISTS sale_lines (
	sale_id         TEXT NOT NULL REFERENCES sales (id),
	position        INTEGER NOT NULL,
	barcode         TEXT NOT NULL,
	name            TEXT NOT NULL,
	unit_price      TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	quantity        INTEGER NOT NULL,
	discount_kind   TEXT NOT NULL DEFAULT '',
	discount_value  TEXT NOT NULL DEFAULT '0',
	discount_amount TEXT NOT NULL,
	line_total      TEXT NOT NULL,
	tax_rate        TEXT NOT NULL,
	PRIMARY KEY (sale_id, position)
)`

// PostgresStorage keeps sales in Postgres through a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, pool *pgxpool.Pool) (*PostgresStorage, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create sales tables: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) Set(ctx context.Context, sale *Sale) error {
	if sale.ID == "" {
		return ErrEmptyID
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO sales (id, number, cart_id, created_at, updated_at, subtotal, discount_total, tax, grand_total, payment_method, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		sale.ID, sale.Number, sale.CartID, sale.CreatedAt.UnixNano(), sale.UpdatedAt.UnixNano(),
		sale.Subtotal.String(), sale.DiscountTotal.String(), sale.Tax.String(), sale.GrandTotal.String(),
		sale.PaymentMethod, string(sale.Status), sale.Version)
	if err != nil {
		return fmt.Errorf("insert sale %s: %w", sale.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, l := range sale.Lines {
		batch.Queue(`
			INSERT INTO sale_lines (sale_id, position, barcode, name, unit_price, category, quantity, discount_kind, discount_value, discount_amount, line_total, tax_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			sale.ID, i, l.Barcode, l.Name, l.UnitPrice.String(), l.Category, l.Quantity,
			string(l.Discount.Kind), l.Discount.Value.String(), l.DiscountAmount.String(),
			l.LineTotal.String(), l.TaxRate.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert sale %s lines: %w", sale.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) Read(ctx context.Context, id string) (*Sale, error) {
	sales, err := s.query(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, ErrNotFound
	}
	return sales[0], nil
}

func (s *PostgresStorage) GetAll(ctx context.Context) ([]*Sale, error) {
	return s.query(ctx, ``)
}

func (s *PostgresStorage) Between(ctx context.Context, start, end time.Time) ([]*Sale, error) {
	return s.query(ctx, `WHERE created_at BETWEEN $1 AND $2`, start.UnixNano(), end.UnixNano())
}

func (s *PostgresStorage) query(ctx context.Context, where string, args ...any) ([]*Sale, error) {
	rows, err := s.pool.Query(ctx, selectSale+` `+where+` ORDER BY created_at, number`, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]*Sale, 0)
	byID := map[string]*Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
		byID[sale.ID] = sale
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	lineRows, err := s.pool.Query(ctx,
		selectLine+` WHERE sale_id IN (SELECT id FROM sales `+where+`) ORDER BY sale_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		saleID, l, err := scanLine(lineRows)
		if err != nil {
			return nil, err
		}
		if sale, ok := byID[saleID]; ok {
			sale.Lines = append(sale.Lines, l)
		}
	}
	return sales, lineRows.Err()
}

func (s *PostgresStorage) CompareAndSetStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Sale, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sales SET status = $1, updated_at = $2, version = version + 1 WHERE id = $3 AND status = $4`,
		string(to), at.UnixNano(), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("update sale %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM sales WHERE id = $1`, id).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}
	return s.Read(ctx, id)
}

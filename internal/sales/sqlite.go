package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos_engine/internal/pricing"

	"github.com/shopspring/decimal"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sales (
	id             TEXT PRIMARY KEY,
	number         INTEGER NOT NULL,
	cart_id        TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
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

const (
	selectSale = `SELECT id, number, cart_id, created_at, updated_at, subtotal, discount_total, tax, grand_total, payment_method, status, version FROM sales`
	selectLine = `SELECT sale_id, barcode, name, unit_price, category, quantity, discount_kind, discount_value, discount_amount, line_total, tax_rate FROM sale_lines`
)

// SQLiteStorage keeps sales in the sales and sale_lines tables.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates the sales tables if needed.
func NewSQLiteStorage(ctx context.Context, db *sql.DB) (*SQLiteStorage, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sales tables: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// decimals parses the text columns in place.
func decimals(pairs map[*decimal.Decimal]string) error {
	for dst, raw := range pairs {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("malformed decimal %q: %w", raw, err)
		}
		*dst = d
	}
	return nil
}

func scanSale(row rowScanner) (*Sale, error) {
	var s Sale
	var created, updated int64
	var subtotal, discount, tax, total, status string
	err := row.Scan(&s.ID, &s.Number, &s.CartID, &created, &updated,
		&subtotal, &discount, &tax, &total, &s.PaymentMethod, &status, &s.Version)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()
	s.Status = Status(status)
	err = decimals(map[*decimal.Decimal]string{
		&s.Subtotal: subtotal, &s.DiscountTotal: discount, &s.Tax: tax, &s.GrandTotal: total,
	})
	if err != nil {
		return nil, fmt.Errorf("sale %s: %w", s.ID, err)
	}
	s.Lines = []Line{}
	return &s, nil
}

// scanLine returns the sale id the line belongs to.
func scanLine(row rowScanner) (string, Line, error) {
	var saleID, kind string
	var l Line
	var unitPrice, discountValue, discountAmount, lineTotal, taxRate string
	err := row.Scan(&saleID, &l.Barcode, &l.Name, &unitPrice, &l.Category, &l.Quantity,
		&kind, &discountValue, &discountAmount, &lineTotal, &taxRate)
	if err != nil {
		return "", Line{}, err
	}
	l.Discount.Kind = pricing.DiscountKind(kind)
	err = decimals(map[*decimal.Decimal]string{
		&l.UnitPrice: unitPrice, &l.Discount.Value: discountValue, &l.DiscountAmount: discountAmount,
		&l.LineTotal: lineTotal, &l.TaxRate: taxRate,
	})
	if err != nil {
		return "", Line{}, fmt.Errorf("sale %s line %s: %w", saleID, l.Barcode, err)
	}
	return saleID, l, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, sale *Sale) error {
	if sale.ID == "" {
		return ErrEmptyID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, number, cart_id, created_at, updated_at, subtotal, discount_total, tax, grand_total, payment_method, status, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		sale.ID, sale.Number, sale.CartID, sale.CreatedAt.UnixNano(), sale.UpdatedAt.UnixNano(),
		sale.Subtotal.String(), sale.DiscountTotal.String(), sale.Tax.String(), sale.GrandTotal.String(),
		sale.PaymentMethod, string(sale.Status), sale.Version)
	if err != nil {
		return fmt.Errorf("insert sale %s: %w", sale.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, l := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, barcode, name, unit_price, category, quantity, discount_kind, discount_value, discount_amount, line_total, tax_rate)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sale.ID, i, l.Barcode, l.Name, l.UnitPrice.String(), l.Category, l.Quantity,
			string(l.Discount.Kind), l.Discount.Value.String(), l.DiscountAmount.String(),
			l.LineTotal.String(), l.TaxRate.String())
		if err != nil {
			return fmt.Errorf("insert sale %s line %d: %w", sale.ID, i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Read(ctx context.Context, id string) (*Sale, error) {
	sales, err := s.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, ErrNotFound
	}
	return sales[0], nil
}

func (s *SQLiteStorage) GetAll(ctx context.Context) ([]*Sale, error) {
	return s.query(ctx, ``)
}

func (s *SQLiteStorage) Between(ctx context.Context, start, end time.Time) ([]*Sale, error) {
	return s.query(ctx, `WHERE created_at BETWEEN ? AND ?`, start.UnixNano(), end.UnixNano())
}

// query loads the sales matching where, then their lines in one pass.
func (s *SQLiteStorage) query(ctx context.Context, where string, args ...any) ([]*Sale, error) {
	rows, err := s.db.QueryContext(ctx, selectSale+` `+where+` ORDER BY created_at, number`, args...)
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

	lineRows, err := s.db.QueryContext(ctx,
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

func (s *SQLiteStorage) CompareAndSetStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Sale, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sales SET status = ?, updated_at = ?, version = version + 1 WHERE id = ? AND status = ?`,
		string(to), at.UnixNano(), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("update sale %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sales WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}
	return s.Read(ctx, id)
}

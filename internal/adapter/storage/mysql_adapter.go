package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/port"
)

type MySQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// WithinTx runs fn inside a database transaction. The deferred rollback runs on
// every exit path, so the pooled connection and any row locks are released even
// when fn fails after its writes were staged or ctx is cancelled mid-flight.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlLedgerTx{tx: tx, now: m.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mysqlLedgerTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *mysqlLedgerTx) InsertProduct(ctx context.Context, in domain.NewProduct) (int64, error) {
	return insertProduct(ctx, t.tx, in, t.now())
}

func (t *mysqlLedgerTx) LockProduct(ctx context.Context, productID int64) (domain.StockLevel, error) {
	level := domain.StockLevel{ProductID: productID}

	err := t.tx.QueryRowContext(ctx, `
		SELECT name, quantity FROM products WHERE id = ? FOR UPDATE`, productID,
	).Scan(&level.ProductName, &level.Quantity)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("lock product: %w", err)
	}

	return level, nil
}

func (t *mysqlLedgerTx) UpdateQuantity(ctx context.Context, productID int64, quantity int64) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products SET quantity = ?, updated_at = ? WHERE id = ?`,
		quantity, t.now(), productID,
	)
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}
	if rows == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (t *mysqlLedgerTx) InsertTransaction(ctx context.Context, rec domain.Transaction) (domain.Transaction, error) {
	rec.CreatedAt = t.now()

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions
		(product_id, transaction_type, quantity, previous_quantity, new_quantity, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ProductID, string(rec.TransactionType), rec.Quantity,
		rec.PreviousQuantity, rec.NewQuantity, nullString(rec.Notes), rec.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	rec.ID = id

	return rec, nil
}

func (m *MySQLAdapter) RecentTransactions(ctx context.Context, productID int64, limit int) ([]domain.Transaction, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, product_id, transaction_type, quantity, previous_quantity, new_quantity, notes, created_at
		FROM inventory_transactions
		WHERE product_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, productID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (m *MySQLAdapter) LedgerHistory(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, product_id, transaction_type, quantity, previous_quantity, new_quantity, notes, created_at
		FROM inventory_transactions
		WHERE product_id = ?
		ORDER BY id ASC`, productID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger history: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		var (
			rec    domain.Transaction
			txType string
			notes  sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.ProductID, &txType, &rec.Quantity,
			&rec.PreviousQuantity, &rec.NewQuantity, &notes, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		rec.TransactionType = domain.TransactionType(txType)
		rec.Notes = notes.String
		txs = append(txs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

func (m *MySQLAdapter) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	var s domain.InventorySummary
	err := m.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN quantity <= min_quantity THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quantity = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(quantity * price), 0)
		FROM products`,
	).Scan(&s.TotalProducts, &s.LowStockItems, &s.OutOfStock, &s.TotalInventoryValue)
	if err != nil {
		return domain.InventorySummary{}, fmt.Errorf("query inventory summary: %w", err)
	}
	return s, nil
}

func (m *MySQLAdapter) DailyMovements(ctx context.Context, since time.Time) ([]domain.DailyMovement, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT
			DATE_FORMAT(created_at, '%Y-%m-%d') AS day,
			transaction_type,
			SUM(quantity) AS total_quantity,
			COUNT(*) AS transaction_count
		FROM inventory_transactions
		WHERE created_at >= ?
		GROUP BY day, transaction_type
		ORDER BY day DESC, transaction_type`, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.DailyMovement, 0)
	for rows.Next() {
		var (
			d      domain.DailyMovement
			txType string
		)
		if err := rows.Scan(&d.Date, &txType, &d.TotalQuantity, &d.TransactionCount); err != nil {
			return nil, fmt.Errorf("scan daily movement: %w", err)
		}
		d.TransactionType = domain.TransactionType(txType)
		movements = append(movements, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily movements: %w", err)
	}
	return movements, nil
}

func (m *MySQLAdapter) TopMovingProducts(ctx context.Context, limit int) ([]domain.ProductMovement, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT
			p.name,
			p.sku,
			COALESCE(SUM(CASE WHEN t.transaction_type = 'IN' THEN t.quantity ELSE 0 END), 0) AS total_in,
			COALESCE(SUM(CASE WHEN t.transaction_type = 'OUT' THEN t.quantity ELSE 0 END), 0) AS total_out
		FROM products p
		LEFT JOIN inventory_transactions t ON p.id = t.product_id
		GROUP BY p.id, p.name, p.sku
		ORDER BY (total_in + total_out) DESC, p.id
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top moving products: %w", err)
	}
	defer rows.Close()

	movers := make([]domain.ProductMovement, 0)
	for rows.Next() {
		var pm domain.ProductMovement
		if err := rows.Scan(&pm.Name, &pm.SKU, &pm.TotalIn, &pm.TotalOut); err != nil {
			return nil, fmt.Errorf("scan top moving product: %w", err)
		}
		movers = append(movers, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top moving products: %w", err)
	}
	return movers, nil
}

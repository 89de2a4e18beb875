package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrNoReferencedRow = 1452
)

const productColumns = `
	p.id, p.name, p.category_id, c.name, p.sku, p.description,
	p.quantity, p.min_quantity, p.price, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p            domain.Product
		categoryID   sql.NullInt64
		categoryName sql.NullString
		description  sql.NullString
		quantity     int64
	)
	if err := row.Scan(
		&p.ID, &p.Name, &categoryID, &categoryName, &p.SKU, &description,
		&quantity, &p.MinQuantity, &p.Price, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		p.CategoryID = &id
	}
	if categoryName.Valid {
		name := categoryName.String
		p.CategoryName = &name
	}
	p.Description = description.String
	return domain.HydrateProduct(p, quantity), nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT`+productColumns+`
		FROM products p
		LEFT JOIN categories c ON p.category_id = c.id
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, `
		SELECT`+productColumns+`
		FROM products p
		LEFT JOIN categories c ON p.category_id = c.id
		WHERE p.id = ?`, id))

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) SKUExists(ctx context.Context, sku string, excludeID int64) (bool, error) {
	var id int64
	err := m.db.QueryRowContext(ctx, `
		SELECT id FROM products WHERE sku = ? AND id <> ? LIMIT 1`, sku, excludeID,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query sku: %w", err)
	}
	return true, nil
}

// CreateProduct inserts the product at quantity zero. Stock is only ever booked
// through the ledger.
func (m *MySQLAdapter) CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error) {
	id, err := insertProduct(ctx, m.db, in, m.now())
	if err != nil {
		return domain.Product{}, err
	}
	return m.GetProduct(ctx, id)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertProduct(ctx context.Context, db execer, in domain.NewProduct, now time.Time) (int64, error) {
	var categoryID sql.NullInt64
	if in.CategoryID != nil {
		categoryID = sql.NullInt64{Int64: *in.CategoryID, Valid: true}
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO products (name, category_id, sku, description, quantity, min_quantity, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		in.Name, categoryID, in.SKU, nullString(in.Description),
		in.MinQuantity, in.Price, now, now,
	)
	if err != nil {
		return 0, mapWriteError(err, "insert product")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return id, nil
}

// UpdateProduct applies a metadata patch. The statement is built from
// domain.ProductPatch, which has no quantity field.
func (m *MySQLAdapter) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (domain.Product, error) {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *patch.CategoryID)
	}
	if patch.SKU != nil {
		sets = append(sets, "sku = ?")
		args = append(args, *patch.SKU)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(*patch.Description))
	}
	if patch.MinQuantity != nil {
		sets = append(sets, "min_quantity = ?")
		args = append(args, *patch.MinQuantity)
	}
	if patch.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *patch.Price)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, m.now(), id)

	result, err := m.db.ExecContext(ctx,
		"UPDATE products SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return domain.Product{}, mapWriteError(err, "update product")
	}

	// RowsAffected is 0 for a no-op update in MySQL, so existence is checked by
	// reading the row back
	if _, err := result.RowsAffected(); err != nil {
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}

	return m.GetProduct(ctx, id)
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if rows == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (m *MySQLAdapter) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.created_at, COUNT(p.id) AS product_count
		FROM categories c
		LEFT JOIN products p ON c.id = p.category_id
		GROUP BY c.id, c.name, c.created_at
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.ProductCount); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

func (m *MySQLAdapter) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	var c domain.Category
	err := m.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.created_at,
			(SELECT COUNT(*) FROM products p WHERE p.category_id = c.id)
		FROM categories c WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.ProductCount)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("query category: %w", err)
	}
	return c, nil
}

func (m *MySQLAdapter) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	now := m.now()
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO categories (name, created_at) VALUES (?, ?)`, name, now)
	if err != nil {
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return domain.Category{ID: id, Name: name, CreatedAt: now}, nil
}

func (m *MySQLAdapter) UpdateCategory(ctx context.Context, id int64, name string) (domain.Category, error) {
	if _, err := m.db.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ?`, name, id); err != nil {
		return domain.Category{}, fmt.Errorf("update category: %w", err)
	}
	return m.GetCategory(ctx, id)
}

// DeleteCategory relies on the ON DELETE SET NULL foreign key to detach products.
func (m *MySQLAdapter) DeleteCategory(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if rows == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

func mapWriteError(err error, op string) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDuplicateEntry:
			return domain.ErrDuplicateSKU
		case mysqlErrNoReferencedRow:
			return domain.ErrCategoryNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

// LedgerTx is the view of one unit of work. Every method runs inside the same
// store transaction; nothing is visible to other callers until commit.
type LedgerTx interface {
	// InsertProduct stages a new product row with a zero balance and returns its
	// id. The row only becomes visible to other callers on commit.
	InsertProduct(ctx context.Context, p domain.NewProduct) (int64, error)

	// LockProduct takes an exclusive lock on the product row and returns its
	// current balance. Returns domain.ErrProductNotFound when the row is missing.
	LockProduct(ctx context.Context, productID int64) (domain.StockLevel, error)

	// UpdateQuantity writes the new balance of a locked product.
	UpdateQuantity(ctx context.Context, productID int64, quantity int64) error

	// InsertTransaction appends a ledger row and returns it with id and created_at set.
	InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
}

// TransactionManager runs fn in a unit of work: committed when fn returns nil,
// rolled back otherwise. Locks taken through the LedgerTx are released on return.
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	SKUExists(ctx context.Context, sku string, excludeID int64) (bool, error)
	CreateProduct(ctx context.Context, p domain.NewProduct) (domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (domain.Category, error)
	CreateCategory(ctx context.Context, name string) (domain.Category, error)
	UpdateCategory(ctx context.Context, id int64, name string) (domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
}

type TransactionRepository interface {
	// RecentTransactions returns up to limit rows for a product, newest first.
	RecentTransactions(ctx context.Context, productID int64, limit int) ([]domain.Transaction, error)

	// LedgerHistory returns every row for a product in creation order.
	LedgerHistory(ctx context.Context, productID int64) ([]domain.Transaction, error)
}

type AnalyticsRepository interface {
	InventorySummary(ctx context.Context) (domain.InventorySummary, error)
	DailyMovements(ctx context.Context, since time.Time) ([]domain.DailyMovement, error)
	TopMovingProducts(ctx context.Context, limit int) ([]domain.ProductMovement, error)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-tracker/internal/adapter/storage"
	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

func newCatalogFixture() (*storage.MemoryAdapter, *CatalogService, *LedgerService) {
	store := storage.NewMemoryAdapter()
	ledger := NewLedgerService(store)
	return store, NewCatalogService(store, store, store, ledger, nil), ledger
}

func validProduct(sku string) domain.NewProduct {
	return domain.NewProduct{
		Name:        "Cordless Drill",
		SKU:         sku,
		MinQuantity: domain.DefaultMinQuantity,
		Price:       decimal.RequireFromString("89.99"),
	}
}

func TestCatalog_CreateProductWithInitialQuantity(t *testing.T) {
	ctx := context.Background()
	store, catalog, _ := newCatalogFixture()

	in := validProduct("DRL-100")
	in.InitialQuantity = 12
	p, err := catalog.CreateProduct(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.Quantity())

	history, err := store.LedgerHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.TransactionIn, history[0].TransactionType)
	assert.Equal(t, "initial stock", history[0].Notes)

	report, err := catalog.VerifyLedger(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(12), report.ReplayedQuantity)
}

func TestCatalog_CreateProductWithInitialQuantityIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	lost := errors.New("connection lost")
	failing := NewCatalogService(store, store, store, NewLedgerService(&failingInsertManager{inner: store, err: lost}), nil)

	in := validProduct("W-1")
	in.InitialQuantity = 10
	_, err := failing.CreateProduct(ctx, in)
	require.ErrorIs(t, err, lost)

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)

	// the retry must not trip over a half-created product
	healthy := NewCatalogService(store, store, store, NewLedgerService(store), nil)
	p, err := healthy.CreateProduct(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Quantity())

	history, err := store.LedgerHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(10), history[0].NewQuantity)
}

func TestCatalog_CreateProductWithInitialQuantityDuplicateSKU(t *testing.T) {
	ctx := context.Background()
	store, catalog, ledger := newCatalogFixture()

	in := validProduct("DRL-200")
	in.InitialQuantity = 4
	_, err := catalog.CreateProduct(ctx, in)
	require.NoError(t, err)

	// bypasses the service pre-check so the unit of work sees the conflict
	_, err = ledger.Open(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicateSKU)

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestCatalog_CreateProductWithoutQuantityHasNoLedgerRows(t *testing.T) {
	ctx := context.Background()
	store, catalog, _ := newCatalogFixture()

	p, err := catalog.CreateProduct(ctx, validProduct("DRL-101"))
	require.NoError(t, err)
	assert.Zero(t, p.Quantity())
	assert.True(t, p.LowStock())

	history, err := store.LedgerHistory(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCatalog_CreateProductValidation(t *testing.T) {
	ctx := context.Background()
	_, catalog, _ := newCatalogFixture()

	missingCategory := int64(77)
	cases := []struct {
		name   string
		mutate func(*domain.NewProduct)
		field  string
	}{
		{"short name", func(p *domain.NewProduct) { p.Name = "x" }, "name"},
		{"lowercase sku", func(p *domain.NewProduct) { p.SKU = "drl-1" }, "sku"},
		{"empty sku", func(p *domain.NewProduct) { p.SKU = "" }, "sku"},
		{"long description", func(p *domain.NewProduct) { p.Description = strings.Repeat("d", 1001) }, "description"},
		{"negative min quantity", func(p *domain.NewProduct) { p.MinQuantity = -1 }, "min_quantity"},
		{"zero price", func(p *domain.NewProduct) { p.Price = decimal.Zero }, "price"},
		{"three decimals", func(p *domain.NewProduct) { p.Price = decimal.RequireFromString("1.005") }, "price"},
		{"negative quantity", func(p *domain.NewProduct) { p.InitialQuantity = -3 }, "quantity"},
		{"unknown category", func(p *domain.NewProduct) { p.CategoryID = &missingCategory }, "category_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validProduct("VAL-1")
			tc.mutate(&in)
			_, err := catalog.CreateProduct(ctx, in)
			var validationErr *domain.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestCatalog_DuplicateSKU(t *testing.T) {
	ctx := context.Background()
	_, catalog, _ := newCatalogFixture()

	first, err := catalog.CreateProduct(ctx, validProduct("DUP-1"))
	require.NoError(t, err)

	_, err = catalog.CreateProduct(ctx, validProduct("DUP-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSKU)

	second, err := catalog.CreateProduct(ctx, validProduct("DUP-2"))
	require.NoError(t, err)

	sku := "DUP-1"
	_, err = catalog.UpdateProduct(ctx, second.ID, domain.ProductPatch{SKU: &sku})
	assert.ErrorIs(t, err, domain.ErrDuplicateSKU)

	// keeping its own sku is not a clash
	_, err = catalog.UpdateProduct(ctx, first.ID, domain.ProductPatch{SKU: &sku})
	assert.NoError(t, err)
}

func TestCatalog_UpdateProductLeavesQuantity(t *testing.T) {
	ctx := context.Background()
	_, catalog, ledger := newCatalogFixture()

	p, err := catalog.CreateProduct(ctx, validProduct("UPD-1"))
	require.NoError(t, err)
	_, err = ledger.Receive(ctx, StockRequest{ProductID: p.ID, Quantity: 9})
	require.NoError(t, err)

	name := "Hammer Drill"
	minQty := int64(10)
	updated, err := catalog.UpdateProduct(ctx, p.ID, domain.ProductPatch{Name: &name, MinQuantity: &minQty})
	require.NoError(t, err)
	assert.Equal(t, "Hammer Drill", updated.Name)
	assert.Equal(t, int64(9), updated.Quantity())
	assert.True(t, updated.LowStock())
}

func TestCatalog_UpdateProductErrors(t *testing.T) {
	ctx := context.Background()
	_, catalog, _ := newCatalogFixture()

	_, err := catalog.UpdateProduct(ctx, 1, domain.ProductPatch{})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	name := "Valid name"
	_, err = catalog.UpdateProduct(ctx, 404, domain.ProductPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = catalog.UpdateProduct(ctx, -1, domain.ProductPatch{Name: &name})
	require.ErrorAs(t, err, &validationErr)
}

func TestCatalog_DeleteProductKeepsLedger(t *testing.T) {
	ctx := context.Background()
	store, catalog, _ := newCatalogFixture()

	in := validProduct("DEL-1")
	in.InitialQuantity = 3
	p, err := catalog.CreateProduct(ctx, in)
	require.NoError(t, err)

	require.NoError(t, catalog.DeleteProduct(ctx, p.ID))
	_, err = catalog.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, catalog.DeleteProduct(ctx, p.ID), domain.ErrProductNotFound)

	history, err := store.LedgerHistory(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCatalog_ListProductTransactions(t *testing.T) {
	ctx := context.Background()
	_, catalog, ledger := newCatalogFixture()

	p, err := catalog.CreateProduct(ctx, validProduct("TX-1"))
	require.NoError(t, err)
	for i := 0; i < RecentTransactionsLimit+5; i++ {
		_, err := ledger.Receive(ctx, StockRequest{ProductID: p.ID, Quantity: 1})
		require.NoError(t, err)
	}

	txs, err := catalog.ListProductTransactions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, txs, RecentTransactionsLimit)
	assert.Equal(t, int64(RecentTransactionsLimit+5), txs[0].NewQuantity)
}

func TestCatalog_Categories(t *testing.T) {
	ctx := context.Background()
	_, catalog, _ := newCatalogFixture()

	_, err := catalog.CreateCategory(ctx, "   ")
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	c, err := catalog.CreateCategory(ctx, " Power Tools ")
	require.NoError(t, err)
	assert.Equal(t, "Power Tools", c.Name)

	in := validProduct("CAT-1")
	in.CategoryID = &c.ID
	p, err := catalog.CreateProduct(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, p.CategoryName)
	assert.Equal(t, "Power Tools", *p.CategoryName)

	renamed, err := catalog.UpdateCategory(ctx, c.ID, "Tools")
	require.NoError(t, err)
	assert.Equal(t, "Tools", renamed.Name)

	fetched, err := catalog.GetCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetched.ProductCount)

	_, err = catalog.GetCategory(ctx, 0)
	require.ErrorAs(t, err, &validationErr)

	_, err = catalog.UpdateCategory(ctx, 999, "Nope")
	assert.ErrorIs(t, err, domain.ErrCategoryNotFound)

	require.NoError(t, catalog.DeleteCategory(ctx, c.ID))
	got, err := catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)

	categories, err := catalog.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

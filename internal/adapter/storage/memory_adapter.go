package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/port"
)

// MemoryAdapter keeps the catalog and the ledger in process memory. Row locks are
// emulated with one single-slot channel per product, held until the unit of work
// ends, so the ledger sees the same serialization it gets from InnoDB.
type MemoryAdapter struct {
	mu           sync.RWMutex
	categories   map[int64]domain.Category
	products     map[int64]domain.Product
	transactions []domain.Transaction

	nextCategoryID    int64
	nextProductID     int64
	nextTransactionID int64

	locksMu  sync.Mutex
	rowLocks map[int64]chan struct{}

	now func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		categories: make(map[int64]domain.Category),
		products:   make(map[int64]domain.Product),
		rowLocks:   make(map[int64]chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAdapter) rowLock(productID int64) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.rowLocks[productID]
	if !ok {
		lock = make(chan struct{}, 1)
		m.rowLocks[productID] = lock
	}
	return lock
}

func (m *MemoryAdapter) acquire(ctx context.Context, productID int64) (chan struct{}, error) {
	lock := m.rowLock(productID)
	select {
	case lock <- struct{}{}:
		return lock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx := &memoryLedgerTx{
		store:      m,
		held:       make(map[int64]chan struct{}),
		quantities: make(map[int64]int64),
		created:    make(map[int64]domain.Product),
	}
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return tx.commit()
}

type memoryLedgerTx struct {
	store      *MemoryAdapter
	held       map[int64]chan struct{}
	quantities map[int64]int64
	created    map[int64]domain.Product
	pending    []domain.Transaction
}

func (tx *memoryLedgerTx) InsertProduct(ctx context.Context, in domain.NewProduct) (int64, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if err := tx.store.checkNewProduct(in.SKU, in.CategoryID); err != nil {
		return 0, err
	}
	for _, p := range tx.created {
		if p.SKU == in.SKU {
			return 0, domain.ErrDuplicateSKU
		}
	}

	tx.store.nextProductID++
	p := tx.store.newProduct(tx.store.nextProductID, in)
	tx.created[p.ID] = p
	return p.ID, nil
}

func (tx *memoryLedgerTx) LockProduct(ctx context.Context, productID int64) (domain.StockLevel, error) {
	if _, ok := tx.held[productID]; !ok {
		lock, err := tx.store.acquire(ctx, productID)
		if err != nil {
			return domain.StockLevel{}, fmt.Errorf("lock product %d: %w", productID, err)
		}
		tx.held[productID] = lock
	}

	p, ok := tx.created[productID]
	if !ok {
		tx.store.mu.RLock()
		p, ok = tx.store.products[productID]
		tx.store.mu.RUnlock()
	}
	if !ok {
		return domain.StockLevel{}, domain.ErrProductNotFound
	}

	quantity := p.Quantity()
	if staged, ok := tx.quantities[productID]; ok {
		quantity = staged
	}

	return domain.StockLevel{ProductID: productID, ProductName: p.Name, Quantity: quantity}, nil
}

func (tx *memoryLedgerTx) UpdateQuantity(ctx context.Context, productID int64, quantity int64) error {
	if _, ok := tx.held[productID]; !ok {
		return fmt.Errorf("product %d is not locked in this transaction", productID)
	}
	if quantity < 0 {
		return fmt.Errorf("quantity %d violates non-negative constraint", quantity)
	}
	tx.quantities[productID] = quantity
	return nil
}

func (tx *memoryLedgerTx) InsertTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if _, ok := tx.held[t.ProductID]; !ok {
		return domain.Transaction{}, fmt.Errorf("product %d is not locked in this transaction", t.ProductID)
	}

	tx.store.mu.Lock()
	tx.store.nextTransactionID++
	t.ID = tx.store.nextTransactionID
	t.CreatedAt = tx.store.now()
	tx.store.mu.Unlock()

	tx.pending = append(tx.pending, t)
	return t, nil
}

// commit rechecks staged products because another unit of work may have
// committed the same SKU since InsertProduct ran. Nothing is applied on failure.
func (tx *memoryLedgerTx) commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for _, p := range tx.created {
		if err := tx.store.checkNewProduct(p.SKU, p.CategoryID); err != nil {
			return err
		}
	}
	for id, p := range tx.created {
		tx.store.products[id] = p
	}

	now := tx.store.now()
	for id, quantity := range tx.quantities {
		p, ok := tx.store.products[id]
		if !ok {
			continue
		}
		p.UpdatedAt = now
		tx.store.products[id] = domain.HydrateProduct(p, quantity)
	}
	tx.store.transactions = append(tx.store.transactions, tx.pending...)
	return nil
}

func (tx *memoryLedgerTx) releaseLocks() {
	for id, lock := range tx.held {
		<-lock
		delete(tx.held, id)
	}
}

// Products

func (m *MemoryAdapter) withCategoryName(p domain.Product) domain.Product {
	if p.CategoryID == nil {
		p.CategoryName = nil
		return p
	}
	if c, ok := m.categories[*p.CategoryID]; ok {
		name := c.Name
		p.CategoryName = &name
	} else {
		p.CategoryName = nil
	}
	return p
}

func (m *MemoryAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, m.withCategoryName(p))
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return m.withCategoryName(p), nil
}

func (m *MemoryAdapter) SKUExists(ctx context.Context, sku string, excludeID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, p := range m.products {
		if p.SKU == sku && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNewProduct(in.SKU, in.CategoryID); err != nil {
		return domain.Product{}, err
	}

	m.nextProductID++
	p := m.newProduct(m.nextProductID, in)
	m.products[p.ID] = p

	return m.withCategoryName(p), nil
}

// checkNewProduct enforces the unique SKU and category foreign key. Callers hold mu.
func (m *MemoryAdapter) checkNewProduct(sku string, categoryID *int64) error {
	for _, p := range m.products {
		if p.SKU == sku {
			return domain.ErrDuplicateSKU
		}
	}
	if categoryID != nil {
		if _, ok := m.categories[*categoryID]; !ok {
			return domain.ErrCategoryNotFound
		}
	}
	return nil
}

func (m *MemoryAdapter) newProduct(id int64, in domain.NewProduct) domain.Product {
	now := m.now()
	return domain.HydrateProduct(domain.Product{
		ID:          id,
		Name:        in.Name,
		CategoryID:  copyID(in.CategoryID),
		SKU:         in.SKU,
		Description: in.Description,
		MinQuantity: in.MinQuantity,
		Price:       in.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, 0)
}

func (m *MemoryAdapter) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.CategoryID != nil {
		if _, ok := m.categories[*patch.CategoryID]; !ok {
			return domain.Product{}, domain.ErrCategoryNotFound
		}
		p.CategoryID = copyID(patch.CategoryID)
	}
	if patch.SKU != nil {
		for otherID, other := range m.products {
			if otherID != id && other.SKU == *patch.SKU {
				return domain.Product{}, domain.ErrDuplicateSKU
			}
		}
		p.SKU = *patch.SKU
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.MinQuantity != nil {
		p.MinQuantity = *patch.MinQuantity
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	p.UpdatedAt = m.now()
	m.products[id] = p

	return m.withCategoryName(p), nil
}

// DeleteProduct waits for the product's row lock so a delete never races an
// in-flight ledger call.
func (m *MemoryAdapter) DeleteProduct(ctx context.Context, id int64) error {
	lock, err := m.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer func() { <-lock }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

// Categories

func (m *MemoryAdapter) ListCategories(ctx context.Context) ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[int64]int64)
	for _, p := range m.products {
		if p.CategoryID != nil {
			counts[*p.CategoryID]++
		}
	}

	categories := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		c.ProductCount = counts[c.ID]
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories, nil
}

func (m *MemoryAdapter) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	for _, p := range m.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			c.ProductCount++
		}
	}
	return c, nil
}

func (m *MemoryAdapter) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextCategoryID++
	c := domain.Category{ID: m.nextCategoryID, Name: name, CreatedAt: m.now()}
	m.categories[c.ID] = c
	return c, nil
}

func (m *MemoryAdapter) UpdateCategory(ctx context.Context, id int64, name string) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	c.Name = name
	m.categories[id] = c
	return c, nil
}

// DeleteCategory detaches the category's products, matching ON DELETE SET NULL.
func (m *MemoryAdapter) DeleteCategory(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.categories[id]; !ok {
		return domain.ErrCategoryNotFound
	}
	delete(m.categories, id)

	for pid, p := range m.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			p.CategoryID = nil
			m.products[pid] = p
		}
	}
	return nil
}

// Transactions

func (m *MemoryAdapter) RecentTransactions(ctx context.Context, productID int64, limit int) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for i := len(m.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.transactions[i].ProductID == productID {
			out = append(out, m.transactions[i])
		}
	}
	return out, nil
}

func (m *MemoryAdapter) LedgerHistory(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, t := range m.transactions {
		if t.ProductID == productID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Analytics

func (m *MemoryAdapter) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := domain.InventorySummary{TotalInventoryValue: decimal.Zero}
	for _, p := range m.products {
		summary.TotalProducts++
		if p.LowStock() {
			summary.LowStockItems++
		}
		if p.Quantity() == 0 {
			summary.OutOfStock++
		}
		summary.TotalInventoryValue = summary.TotalInventoryValue.Add(p.Price.Mul(decimal.NewFromInt(p.Quantity())))
	}
	return summary, nil
}

func (m *MemoryAdapter) DailyMovements(ctx context.Context, since time.Time) ([]domain.DailyMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type bucket struct {
		date   string
		txType domain.TransactionType
	}
	totals := make(map[bucket]*domain.DailyMovement)
	for _, t := range m.transactions {
		if t.CreatedAt.Before(since) {
			continue
		}
		key := bucket{date: t.CreatedAt.UTC().Format(time.DateOnly), txType: t.TransactionType}
		d, ok := totals[key]
		if !ok {
			d = &domain.DailyMovement{Date: key.date, TransactionType: key.txType}
			totals[key] = d
		}
		d.TotalQuantity += t.Quantity
		d.TransactionCount++
	}

	out := make([]domain.DailyMovement, 0, len(totals))
	for _, d := range totals {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].TransactionType < out[j].TransactionType
	})
	return out, nil
}

func (m *MemoryAdapter) TopMovingProducts(ctx context.Context, limit int) ([]domain.ProductMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type row struct {
		id int64
		domain.ProductMovement
	}
	rows := make(map[int64]*row, len(m.products))
	for id, p := range m.products {
		rows[id] = &row{id: id, ProductMovement: domain.ProductMovement{Name: p.Name, SKU: p.SKU}}
	}
	for _, t := range m.transactions {
		r, ok := rows[t.ProductID]
		if !ok {
			continue
		}
		switch t.TransactionType {
		case domain.TransactionIn:
			r.TotalIn += t.Quantity
		case domain.TransactionOut:
			r.TotalOut += t.Quantity
		}
	}

	sorted := make([]*row, 0, len(rows))
	for _, r := range rows {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		vi, vj := sorted[i].TotalIn+sorted[i].TotalOut, sorted[j].TotalIn+sorted[j].TotalOut
		if vi != vj {
			return vi > vj
		}
		return sorted[i].id < sorted[j].id
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]domain.ProductMovement, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, r.ProductMovement)
	}
	return out, nil
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultMinQuantity int64 = 5

// Product is a catalog entry. Its on-hand quantity is unexported: it can only be
// read through Quantity and only changes through stock movements.
type Product struct {
	ID           int64
	Name         string
	CategoryID   *int64
	CategoryName *string
	SKU          string
	Description  string
	MinQuantity  int64
	Price        decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time

	quantity int64
}

// HydrateProduct attaches the stored quantity to a product read back from a store.
// Storage adapters are the only callers.
func HydrateProduct(p Product, quantity int64) Product {
	p.quantity = quantity
	return p
}

func (p Product) Quantity() int64 {
	return p.quantity
}

func (p Product) LowStock() bool {
	return p.quantity <= p.MinQuantity
}

func (p Product) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           int64           `json:"id"`
		Name         string          `json:"name"`
		CategoryID   *int64          `json:"category_id"`
		CategoryName *string         `json:"category_name"`
		SKU          string          `json:"sku"`
		Description  string          `json:"description"`
		Quantity     int64           `json:"quantity"`
		MinQuantity  int64           `json:"min_quantity"`
		Price        decimal.Decimal `json:"price"`
		LowStock     bool            `json:"low_stock"`
		CreatedAt    time.Time       `json:"created_at"`
		UpdatedAt    time.Time       `json:"updated_at"`
	}{
		ID:           p.ID,
		Name:         p.Name,
		CategoryID:   p.CategoryID,
		CategoryName: p.CategoryName,
		SKU:          p.SKU,
		Description:  p.Description,
		Quantity:     p.quantity,
		MinQuantity:  p.MinQuantity,
		Price:        p.Price,
		LowStock:     p.LowStock(),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	})
}

// NewProduct is the input for creating a product. Products always start at zero;
// InitialQuantity is booked through the ledger as the first IN movement.
type NewProduct struct {
	Name            string
	CategoryID      *int64
	SKU             string
	Description     string
	MinQuantity     int64
	Price           decimal.Decimal
	InitialQuantity int64
}

// ProductPatch carries the fields a generic update may change. Quantity is
// owned by the ledger and has no field here.
type ProductPatch struct {
	Name        *string
	CategoryID  *int64
	SKU         *string
	Description *string
	MinQuantity *int64
	Price       *decimal.Decimal
}

func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.CategoryID == nil && p.SKU == nil &&
		p.Description == nil && p.MinQuantity == nil && p.Price == nil
}

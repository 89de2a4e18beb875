package domain

import "github.com/shopspring/decimal"

type InventorySummary struct {
	TotalProducts       int64           `json:"total_products"`
	LowStockItems       int64           `json:"low_stock_items"`
	OutOfStock          int64           `json:"out_of_stock"`
	TotalInventoryValue decimal.Decimal `json:"total_inventory_value"`
}

// DailyMovement aggregates one transaction type on one calendar day (YYYY-MM-DD, UTC).
type DailyMovement struct {
	Date             string          `json:"date"`
	TransactionType  TransactionType `json:"transaction_type"`
	TotalQuantity    int64           `json:"total_quantity"`
	TransactionCount int64           `json:"transaction_count"`
}

type ProductMovement struct {
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	TotalIn  int64  `json:"total_in"`
	TotalOut int64  `json:"total_out"`
}

type AnalyticsReport struct {
	Summary            InventorySummary  `json:"summary"`
	RecentTransactions []DailyMovement   `json:"recent_transactions"`
	TopMovingProducts  []ProductMovement `json:"top_moving_products"`
}

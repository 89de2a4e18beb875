package domain

import (
	"fmt"
	"math"
	"time"
)

type TransactionType string

const (
	TransactionIn  TransactionType = "IN"
	TransactionOut TransactionType = "OUT"
)

func (t TransactionType) Valid() bool {
	return t == TransactionIn || t == TransactionOut
}

// Transaction is one append-only ledger row.
type Transaction struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	TransactionType  TransactionType `json:"transaction_type"`
	Quantity         int64           `json:"quantity"`
	PreviousQuantity int64           `json:"previous_quantity"`
	NewQuantity      int64           `json:"new_quantity"`
	Notes            string          `json:"notes"`
	CreatedAt        time.Time       `json:"created_at"`
}

// StockLevel is the locked view of a product inside a unit of work.
type StockLevel struct {
	ProductID   int64
	ProductName string
	Quantity    int64
}

// Apply computes the balance after moving quantity units in the given direction.
func (l StockLevel) Apply(txType TransactionType, quantity int64) (int64, error) {
	switch txType {
	case TransactionIn:
		if quantity > math.MaxInt64-l.Quantity {
			return l.Quantity, NewValidationError("quantity", "quantity would exceed the maximum stock level of %d", int64(math.MaxInt64))
		}
		return l.Quantity + quantity, nil
	case TransactionOut:
		if l.Quantity < quantity {
			return l.Quantity, &InsufficientStockError{Available: l.Quantity, Requested: quantity}
		}
		return l.Quantity - quantity, nil
	default:
		return l.Quantity, fmt.Errorf("unknown transaction type %q", txType)
	}
}

// StockMovement is the result of a successful ledger call.
type StockMovement struct {
	Transaction Transaction
	ProductName string
}

// ReplayLedger rebuilds a balance from zero by walking txs in creation order and
// checks that every row chains onto the previous one.
func ReplayLedger(txs []Transaction) (int64, error) {
	var balance int64
	for i, t := range txs {
		if t.PreviousQuantity != balance {
			return balance, fmt.Errorf("transaction %d: previous_quantity %d, expected %d", t.ID, t.PreviousQuantity, balance)
		}
		next, err := StockLevel{Quantity: balance}.Apply(t.TransactionType, t.Quantity)
		if err != nil {
			return balance, fmt.Errorf("transaction %d (index %d): %w", t.ID, i, err)
		}
		if next != t.NewQuantity {
			return balance, fmt.Errorf("transaction %d: new_quantity %d, expected %d", t.ID, t.NewQuantity, next)
		}
		balance = next
	}
	return balance, nil
}

// LedgerReport is the outcome of replaying a product's ledger against its stored balance.
type LedgerReport struct {
	ProductID        int64  `json:"product_id"`
	StoredQuantity   int64  `json:"stored_quantity"`
	ReplayedQuantity int64  `json:"replayed_quantity"`
	TransactionCount int    `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
	Problem          string `json:"problem,omitempty"`
}

// StockMovedEvent is published after a ledger call commits.
type StockMovedEvent struct {
	EventID     string      `json:"event_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	ProductName string      `json:"product_name"`
	Transaction Transaction `json:"transaction"`
}

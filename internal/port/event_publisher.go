package port

import (
	"context"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

type EventPublisher interface {
	PublishStockMoved(ctx context.Context, event domain.StockMovedEvent) error
}

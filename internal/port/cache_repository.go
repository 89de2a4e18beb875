package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

type IdempotencyStore interface {
	// Reserve claims key, returns false if it is already taken
	Reserve(ctx context.Context, key string) (bool, error)

	// Release frees a key so a failed request can be retried
	Release(ctx context.Context, key string) error
}

type ReportCache interface {
	// GetReport returns false when nothing is cached
	GetReport(ctx context.Context) (domain.AnalyticsReport, bool, error)

	SetReport(ctx context.Context, report domain.AnalyticsReport, ttl time.Duration) error
}

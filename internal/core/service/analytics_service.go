package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/port"
)

const (
	recentMovementWindow = 30 * 24 * time.Hour
	topMoversLimit       = 10
)

// AnalyticsService builds the read-only inventory report. Results may lag
// in-flight ledger calls by up to the cache TTL.
type AnalyticsService struct {
	repo     port.AnalyticsRepository
	cache    port.ReportCache
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewAnalyticsService(repo port.AnalyticsRepository, cache port.ReportCache, cacheTTL time.Duration, logger *slog.Logger) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *AnalyticsService) Report(ctx context.Context) (domain.AnalyticsReport, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		report, ok, err := s.cache.GetReport(ctx)
		if err != nil {
			// a cache outage only costs us the fast path
			s.logger.Warn("analytics cache read failed", "error", err)
		} else if ok {
			return report, nil
		}
	}

	summary, err := s.repo.InventorySummary(ctx)
	if err != nil {
		return domain.AnalyticsReport{}, fmt.Errorf("inventory summary: %w", err)
	}

	daily, err := s.repo.DailyMovements(ctx, s.now().Add(-recentMovementWindow))
	if err != nil {
		return domain.AnalyticsReport{}, fmt.Errorf("daily movements: %w", err)
	}

	top, err := s.repo.TopMovingProducts(ctx, topMoversLimit)
	if err != nil {
		return domain.AnalyticsReport{}, fmt.Errorf("top moving products: %w", err)
	}

	report := domain.AnalyticsReport{
		Summary:            summary,
		RecentTransactions: daily,
		TopMovingProducts:  top,
	}
	if report.RecentTransactions == nil {
		report.RecentTransactions = []domain.DailyMovement{}
	}
	if report.TopMovingProducts == nil {
		report.TopMovingProducts = []domain.ProductMovement{}
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetReport(ctx, report, s.cacheTTL); err != nil {
			s.logger.Warn("analytics cache write failed", "error", err)
		}
	}

	return report, nil
}

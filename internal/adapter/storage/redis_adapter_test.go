package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestReserve_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, RedisOptions{IdempotencyTTL: time.Minute})

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"test-idem-key")

	// First call should succeed
	ok, err := adapter.Reserve(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	// Second call should fail (key exists)
	ok, err = adapter.Reserve(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	ttl := client.TTL(ctx, idempotencyKeyPrefix+"test-idem-key").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within 1m, got %v", ttl)
	}
}

func TestReserve_ReleaseAllowsRetry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, RedisOptions{})

	client.Del(ctx, idempotencyKeyPrefix+"release-key")

	if ok, err := adapter.Reserve(ctx, "release-key"); err != nil || !ok {
		t.Fatalf("reserve failed: ok=%v err=%v", ok, err)
	}
	if err := adapter.Release(ctx, "release-key"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if ok, err := adapter.Reserve(ctx, "release-key"); err != nil || !ok {
		t.Errorf("expected reserve after release to succeed: ok=%v err=%v", ok, err)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, RedisOptions{})

	// Setup
	client.Del(ctx, idempotencyKeyPrefix+"concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Reserve(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestReportCache_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, RedisOptions{})

	client.Del(ctx, analyticsReportKey)

	_, ok, err := adapter.GetReport(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}

	report := domain.AnalyticsReport{
		Summary: domain.InventorySummary{
			TotalProducts:       3,
			LowStockItems:       1,
			TotalInventoryValue: decimal.RequireFromString("120.50"),
		},
		RecentTransactions: []domain.DailyMovement{
			{Date: "2026-10-01", TransactionType: domain.TransactionIn, TotalQuantity: 5, TransactionCount: 2},
		},
		TopMovingProducts: []domain.ProductMovement{},
	}
	if err := adapter.SetReport(ctx, report, time.Minute); err != nil {
		t.Fatalf("set report: %v", err)
	}

	got, ok, err := adapter.GetReport(ctx)
	if err != nil || !ok {
		t.Fatalf("expected cache hit: ok=%v err=%v", ok, err)
	}
	if got.Summary.TotalProducts != 3 || !got.Summary.TotalInventoryValue.Equal(report.Summary.TotalInventoryValue) {
		t.Errorf("unexpected summary: %+v", got.Summary)
	}
	if len(got.RecentTransactions) != 1 || got.RecentTransactions[0].TotalQuantity != 5 {
		t.Errorf("unexpected recent transactions: %+v", got.RecentTransactions)
	}
}

func TestCircuitBreaker_OpensOnFailures(t *testing.T) {
	// nothing listens on this port
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	adapter := NewRedisAdapter(client, RedisOptions{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := adapter.Reserve(ctx, "k"); err == nil {
			t.Fatal("expected connection error")
		}
	}

	_, err := adapter.Reserve(ctx, "k")
	if err == nil || !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("expected ErrCacheUnavailable once the breaker is open, got %v", err)
	}
}

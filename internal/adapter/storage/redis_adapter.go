package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

const (
	idempotencyKeyPrefix  = "idempotency:"
	analyticsReportKey    = "analytics:report"
	defaultIdempotencyTTL = 24 * time.Hour
)

var ErrCacheUnavailable = errors.New("cache unavailable")

type RedisOptions struct {
	IdempotencyTTL time.Duration

	// breaker trips after this many consecutive failures and stays open for OpenTimeout
	FailureThreshold uint32
	OpenTimeout      time.Duration

	Logger *slog.Logger
}

// RedisAdapter backs idempotency keys and the analytics report cache. Every call
// goes through a circuit breaker so a Redis outage fails fast instead of adding
// a network timeout to each request.
type RedisAdapter struct {
	client         *redis.Client
	breaker        *gobreaker.CircuitBreaker
	idempotencyTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, opts RedisOptions) *RedisAdapter {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &RedisAdapter{
		client:         client,
		breaker:        breaker,
		idempotencyTTL: opts.IdempotencyTTL,
	}
}

func (r *RedisAdapter) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := r.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return result, err
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	result, err := r.execute(func() (interface{}, error) {
		return r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	})
	if err != nil {
		return false, err
	}

	return result.(bool), nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	_, err := r.execute(func() (interface{}, error) {
		return nil, r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
	})
	return err
}

func (r *RedisAdapter) GetReport(ctx context.Context) (domain.AnalyticsReport, bool, error) {
	result, err := r.execute(func() (interface{}, error) {
		data, err := r.client.Get(ctx, analyticsReportKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return domain.AnalyticsReport{}, false, err
	}

	data, _ := result.([]byte)
	if data == nil {
		return domain.AnalyticsReport{}, false, nil
	}

	var report domain.AnalyticsReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.AnalyticsReport{}, false, fmt.Errorf("decode cached report: %w", err)
	}
	return report, true, nil
}

func (r *RedisAdapter) SetReport(ctx context.Context, report domain.AnalyticsReport, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = r.execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, analyticsReportKey, data, ttl).Err()
	})
	return err
}

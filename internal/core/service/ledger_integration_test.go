package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-tracker/internal/adapter/storage"
	"github.com/rl1809/inventory-tracker/internal/core/domain"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	cache   *storage.RedisAdapter
	db      *storage.MySQLAdapter
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/inventory?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	applyTestSchema(t, db)

	return &testEnv{
		redis: rdb,
		mysql: db,
		cache: storage.NewRedisAdapter(rdb, storage.RedisOptions{IdempotencyTTL: time.Minute}),
		db:    storage.NewMySQLAdapter(db),
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

func applyTestSchema(t *testing.T, db *sql.DB) {
	t.Helper()

	raw, err := os.ReadFile("../../../scripts/schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			lines = append(lines, line)
		}
	}
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func TestIntegration_ConcurrentIssueDrainsStock(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	initialStock := int64(10)

	ledger := NewLedgerService(env.db, WithIdempotencyStore(env.cache))
	catalog := NewCatalogService(env.db, env.db, env.db, ledger, nil)

	product, err := catalog.CreateProduct(ctx, domain.NewProduct{
		Name:            "Integration item",
		SKU:             fmt.Sprintf("INT-%d", time.Now().UnixNano()),
		MinQuantity:     domain.DefaultMinQuantity,
		Price:           decimal.RequireFromString("5.00"),
		InitialQuantity: initialStock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	defer func() {
		env.mysql.Exec(`DELETE FROM inventory_transactions WHERE product_id = ?`, product.ID)
		env.mysql.Exec(`DELETE FROM products WHERE id = ?`, product.ID)
	}()

	// Execute issues
	var successCount, insufficientCount atomic.Int32
	var wg sync.WaitGroup
	totalRequests := 20

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Issue(ctx, StockRequest{
				ProductID:      product.ID,
				Quantity:       1,
				IdempotencyKey: uuid.New().String(),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Verify results
	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successful issues, got %d", initialStock, successCount.Load())
	}
	if insufficientCount.Load() != int32(int64(totalRequests)-initialStock) {
		t.Errorf("expected %d rejected issues, got %d", int64(totalRequests)-initialStock, insufficientCount.Load())
	}

	report, err := catalog.VerifyLedger(ctx, product.ID)
	if err != nil {
		t.Fatalf("verify ledger: %v", err)
	}
	if !report.Consistent || report.StoredQuantity != 0 {
		t.Errorf("expected consistent ledger at 0, got %+v", report)
	}
	if report.TransactionCount != int(initialStock)+1 {
		t.Errorf("expected %d transactions, got %d", initialStock+1, report.TransactionCount)
	}
}

func TestIntegration_DuplicateKeyMovesOnce(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	ledger := NewLedgerService(env.db, WithIdempotencyStore(env.cache))
	catalog := NewCatalogService(env.db, env.db, env.db, ledger, nil)

	product, err := catalog.CreateProduct(ctx, domain.NewProduct{
		Name:  "Idempotent item",
		SKU:   fmt.Sprintf("IDEM-%d", time.Now().UnixNano()),
		Price: decimal.RequireFromString("1.00"),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	defer func() {
		env.mysql.Exec(`DELETE FROM inventory_transactions WHERE product_id = ?`, product.ID)
		env.mysql.Exec(`DELETE FROM products WHERE id = ?`, product.ID)
	}()

	key := uuid.New().String()
	var successCount, duplicateCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Receive(ctx, StockRequest{ProductID: product.ID, Quantity: 5, IdempotencyKey: key})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, ErrDuplicateRequest):
				duplicateCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 || duplicateCount.Load() != 9 {
		t.Errorf("expected 1 success and 9 duplicates, got %d/%d", successCount.Load(), duplicateCount.Load())
	}

	got, err := env.db.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Quantity() != 5 {
		t.Errorf("expected quantity 5, got %d", got.Quantity())
	}
}

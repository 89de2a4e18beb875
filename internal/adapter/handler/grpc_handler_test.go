package handler

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/inventory-tracker/internal/adapter/storage"
	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/core/service"
)

func newGRPCClient(t *testing.T) (*StockLedgerClient, *storage.MemoryAdapter, int64) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMemoryAdapter()
	p, err := store.CreateProduct(context.Background(), domain.NewProduct{
		Name:        "Widget",
		SKU:         "WID-1",
		MinQuantity: domain.DefaultMinQuantity,
		Price:       decimal.RequireFromString("3.00"),
	})
	require.NoError(t, err)

	ledger := service.NewLedgerService(store,
		service.WithIdempotencyStore(&memoryKeys{keys: make(map[string]bool)}),
		service.WithLedgerLogger(logger),
	)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(logger)))
	RegisterStockLedgerServer(srv, NewGRPCHandler(ledger, logger))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewStockLedgerClient(conn), store, p.ID
}

func TestGRPC_ReceiveAndIssue(t *testing.T) {
	client, store, productID := newGRPCClient(t)
	ctx := context.Background()

	resp, err := client.ReceiveStock(ctx, &StockRequest{ProductID: productID, Quantity: 10, Notes: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, "Widget", resp.ProductName)
	assert.Equal(t, domain.TransactionIn, resp.Transaction.TransactionType)
	assert.Equal(t, int64(10), resp.Transaction.NewQuantity)
	assert.Equal(t, "delivery", resp.Transaction.Notes)

	resp, err = client.IssueStock(ctx, &StockRequest{ProductID: productID, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(10), resp.Transaction.PreviousQuantity)
	assert.Equal(t, int64(7), resp.Transaction.NewQuantity)

	got, err := store.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Quantity())
}

func TestGRPC_ErrorCodes(t *testing.T) {
	client, _, productID := newGRPCClient(t)
	ctx := context.Background()

	_, err := client.IssueStock(ctx, &StockRequest{ProductID: productID, Quantity: 1})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.ReceiveStock(ctx, &StockRequest{ProductID: productID, Quantity: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ReceiveStock(ctx, &StockRequest{ProductID: 999, Quantity: 1})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_IdempotencyKeyFromMetadata(t *testing.T) {
	client, store, productID := newGRPCClient(t)

	ctx := metadata.AppendToOutgoingContext(context.Background(), idempotencyKeyMetadata, "once")
	_, err := client.ReceiveStock(ctx, &StockRequest{ProductID: productID, Quantity: 2})
	require.NoError(t, err)

	_, err = client.ReceiveStock(ctx, &StockRequest{ProductID: productID, Quantity: 2})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	// a key in the message wins over metadata
	_, err = client.ReceiveStock(ctx, &StockRequest{ProductID: productID, Quantity: 2, IdempotencyKey: "twice"})
	require.NoError(t, err)

	got, err := store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Quantity())
}

func TestGRPC_ConcurrentReceive(t *testing.T) {
	client, store, productID := newGRPCClient(t)
	ctx := context.Background()

	const calls = 50
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.ReceiveStock(ctx, &StockRequest{ProductID: productID, Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := store.LedgerHistory(ctx, productID)
	require.NoError(t, err)
	replayed, err := domain.ReplayLedger(history)
	require.NoError(t, err)
	assert.Equal(t, int64(calls), replayed)
}

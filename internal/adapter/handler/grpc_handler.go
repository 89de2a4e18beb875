package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/core/service"
)

const (
	StockLedgerServiceName = "inventory.v1.StockLedger"

	receiveStockMethod = "/" + StockLedgerServiceName + "/ReceiveStock"
	issueStockMethod   = "/" + StockLedgerServiceName + "/IssueStock"

	idempotencyKeyMetadata = "idempotency-key"
)

// jsonCodec lets the ledger be called over gRPC with plain JSON messages.
// Clients select it with grpc.CallContentSubtype(jsonCodec{}.Name()).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type StockRequest struct {
	ProductID      int64  `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type StockResponse struct {
	Transaction domain.Transaction `json:"transaction"`
	ProductName string             `json:"product_name"`
}

type StockLedgerServer interface {
	ReceiveStock(context.Context, *StockRequest) (*StockResponse, error)
	IssueStock(context.Context, *StockRequest) (*StockResponse, error)
}

func RegisterStockLedgerServer(s grpc.ServiceRegistrar, srv StockLedgerServer) {
	s.RegisterService(&stockLedgerServiceDesc, srv)
}

var stockLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: StockLedgerServiceName,
	HandlerType: (*StockLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReceiveStock", Handler: receiveStockHandler},
		{MethodName: "IssueStock", Handler: issueStockHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func receiveStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StockLedgerServer).ReceiveStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: receiveStockMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StockLedgerServer).ReceiveStock(ctx, req.(*StockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func issueStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StockLedgerServer).IssueStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: issueStockMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StockLedgerServer).IssueStock(ctx, req.(*StockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	ledger *service.LedgerService
	logger *slog.Logger
}

func NewGRPCHandler(ledger *service.LedgerService, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{ledger: ledger, logger: logger}
}

func (h *GRPCHandler) ReceiveStock(ctx context.Context, req *StockRequest) (*StockResponse, error) {
	movement, err := h.ledger.Receive(ctx, toServiceRequest(ctx, req))
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &StockResponse{Transaction: movement.Transaction, ProductName: movement.ProductName}, nil
}

func (h *GRPCHandler) IssueStock(ctx context.Context, req *StockRequest) (*StockResponse, error) {
	movement, err := h.ledger.Issue(ctx, toServiceRequest(ctx, req))
	if err != nil {
		return nil, h.grpcError(err)
	}
	return &StockResponse{Transaction: movement.Transaction, ProductName: movement.ProductName}, nil
}

// toServiceRequest falls back to the idempotency-key metadata when the
// message does not carry a key.
func toServiceRequest(ctx context.Context, req *StockRequest) service.StockRequest {
	key := req.IdempotencyKey
	if key == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(idempotencyKeyMetadata); len(values) > 0 {
				key = values[0]
			}
		}
	}
	return service.StockRequest{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
		IdempotencyKey: key,
	}
}

func (h *GRPCHandler) grpcError(err error) error {
	var (
		validationErr   *domain.ValidationError
		insufficientErr *domain.InsufficientStockError
	)

	switch {
	case errors.As(err, &validationErr):
		return status.Error(codes.InvalidArgument, validationErr.Message)
	case errors.As(err, &insufficientErr):
		return status.Error(codes.FailedPrecondition, insufficientErr.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		return status.Error(codes.NotFound, "product not found")
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		h.logger.Error("stock movement failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryLoggingInterceptor logs one line per call. Internal failures are logged
// at error level.
func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if code == codes.Internal {
			logger.Error("grpc request failed", attrs...)
		} else {
			logger.Info("grpc request", attrs...)
		}
		return resp, err
	}
}

// StockLedgerClient calls the ledger over a gRPC connection using the JSON codec.
type StockLedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewStockLedgerClient(cc grpc.ClientConnInterface) *StockLedgerClient {
	return &StockLedgerClient{cc: cc}
}

func (c *StockLedgerClient) ReceiveStock(ctx context.Context, in *StockRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodec{}.Name())}, opts...)
	if err := c.cc.Invoke(ctx, receiveStockMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockLedgerClient) IssueStock(ctx context.Context, in *StockRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodec{}.Name())}, opts...)
	if err := c.cc.Invoke(ctx, issueStockMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

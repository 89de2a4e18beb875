package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/port"
)

const (
	MaxNotesLength    = 500
	OpeningStockNotes = "initial stock"
)

var ErrDuplicateRequest = errors.New("duplicate request")

// MovementObserver receives one observation per ledger call.
type MovementObserver interface {
	ObserveMovement(txType domain.TransactionType, outcome string, elapsed time.Duration)
}

type StockRequest struct {
	ProductID      int64
	Quantity       int64
	Notes          string
	IdempotencyKey string
}

func (r StockRequest) validate() error {
	if r.ProductID <= 0 {
		return domain.NewValidationError("product_id", "invalid product id")
	}
	if r.Quantity <= 0 {
		return domain.NewValidationError("quantity", "quantity must be greater than or equal to 1")
	}
	if utf8.RuneCountInString(r.Notes) > MaxNotesLength {
		return domain.NewValidationError("notes", "notes must be at most %d characters", MaxNotesLength)
	}
	return nil
}

// LedgerService is the only writer of product quantities. Each call runs in
// one unit of work that holds the product's row lock until commit or rollback.
type LedgerService struct {
	tm          port.TransactionManager
	idempotency port.IdempotencyStore
	events      port.EventPublisher
	observer    MovementObserver
	logger      *slog.Logger
}

type LedgerOption func(*LedgerService)

func WithIdempotencyStore(store port.IdempotencyStore) LedgerOption {
	return func(s *LedgerService) { s.idempotency = store }
}

func WithEventPublisher(p port.EventPublisher) LedgerOption {
	return func(s *LedgerService) { s.events = p }
}

func WithMovementObserver(o MovementObserver) LedgerOption {
	return func(s *LedgerService) { s.observer = o }
}

func WithLedgerLogger(l *slog.Logger) LedgerOption {
	return func(s *LedgerService) { s.logger = l }
}

func NewLedgerService(tm port.TransactionManager, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		tm:     tm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receive books an inbound movement.
func (s *LedgerService) Receive(ctx context.Context, req StockRequest) (domain.StockMovement, error) {
	return s.move(ctx, domain.TransactionIn, req)
}

// Issue books an outbound movement, failing with *domain.InsufficientStockError
// when the balance would go negative.
func (s *LedgerService) Issue(ctx context.Context, req StockRequest) (domain.StockMovement, error) {
	return s.move(ctx, domain.TransactionOut, req)
}

func (s *LedgerService) move(ctx context.Context, txType domain.TransactionType, req StockRequest) (domain.StockMovement, error) {
	if err := req.validate(); err != nil {
		s.observe(txType, "invalid", 0)
		return domain.StockMovement{}, err
	}

	start := time.Now()

	idempotencyKey := ""
	if req.IdempotencyKey != "" && s.idempotency != nil {
		idempotencyKey = fmt.Sprintf("stock:%s:%d:%s", txType, req.ProductID, req.IdempotencyKey)

		ok, err := s.idempotency.Reserve(ctx, idempotencyKey)
		if err != nil {
			s.observe(txType, "error", time.Since(start))
			return domain.StockMovement{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			s.observe(txType, "duplicate", time.Since(start))
			return domain.StockMovement{}, ErrDuplicateRequest
		}
	}

	movement, err := s.commitMovement(ctx, txType, req)
	if err != nil {
		if idempotencyKey != "" {
			// the key must not outlive a movement that never happened
			if releaseErr := s.idempotency.Release(context.WithoutCancel(ctx), idempotencyKey); releaseErr != nil {
				s.logger.Warn("failed to release idempotency key", "key", idempotencyKey, "error", releaseErr)
			}
		}
		s.observe(txType, outcomeOf(err), time.Since(start))
		return domain.StockMovement{}, err
	}

	s.observe(txType, "ok", time.Since(start))
	s.logger.Info("stock moved",
		"product_id", req.ProductID,
		"transaction_id", movement.Transaction.ID,
		"type", txType,
		"quantity", req.Quantity,
		"previous_quantity", movement.Transaction.PreviousQuantity,
		"new_quantity", movement.Transaction.NewQuantity,
	)
	s.publish(ctx, movement)

	return movement, nil
}

func (s *LedgerService) commitMovement(ctx context.Context, txType domain.TransactionType, req StockRequest) (domain.StockMovement, error) {
	var movement domain.StockMovement

	err := s.tm.WithinTx(ctx, func(tx port.LedgerTx) error {
		var err error
		movement, err = book(ctx, tx, txType, req)
		return err
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	return movement, nil
}

// book locks the product, applies the movement and appends its ledger row.
func book(ctx context.Context, tx port.LedgerTx, txType domain.TransactionType, req StockRequest) (domain.StockMovement, error) {
	level, err := tx.LockProduct(ctx, req.ProductID)
	if err != nil {
		return domain.StockMovement{}, err
	}

	next, err := level.Apply(txType, req.Quantity)
	if err != nil {
		return domain.StockMovement{}, err
	}

	if err := tx.UpdateQuantity(ctx, req.ProductID, next); err != nil {
		return domain.StockMovement{}, fmt.Errorf("update quantity: %w", err)
	}

	record, err := tx.InsertTransaction(ctx, domain.Transaction{
		ProductID:        req.ProductID,
		TransactionType:  txType,
		Quantity:         req.Quantity,
		PreviousQuantity: level.Quantity,
		NewQuantity:      next,
		Notes:            req.Notes,
	})
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("insert transaction: %w", err)
	}

	return domain.StockMovement{Transaction: record, ProductName: level.ProductName}, nil
}

// Open creates a product and books its opening stock as an IN movement in the
// same unit of work. When any step fails neither the product nor the movement
// is stored.
func (s *LedgerService) Open(ctx context.Context, in domain.NewProduct) (domain.StockMovement, error) {
	if in.InitialQuantity <= 0 {
		s.observe(domain.TransactionIn, "invalid", 0)
		return domain.StockMovement{}, domain.NewValidationError("quantity", "opening quantity must be greater than or equal to 1")
	}

	start := time.Now()

	var movement domain.StockMovement
	err := s.tm.WithinTx(ctx, func(tx port.LedgerTx) error {
		id, err := tx.InsertProduct(ctx, in)
		if err != nil {
			return err
		}

		movement, err = book(ctx, tx, domain.TransactionIn, StockRequest{
			ProductID: id,
			Quantity:  in.InitialQuantity,
			Notes:     OpeningStockNotes,
		})
		return err
	})
	if err != nil {
		s.observe(domain.TransactionIn, outcomeOf(err), time.Since(start))
		return domain.StockMovement{}, err
	}

	s.observe(domain.TransactionIn, "ok", time.Since(start))
	s.logger.Info("product opened with stock",
		"product_id", movement.Transaction.ProductID,
		"transaction_id", movement.Transaction.ID,
		"quantity", in.InitialQuantity,
	)
	s.publish(ctx, movement)

	return movement, nil
}

func (s *LedgerService) publish(ctx context.Context, movement domain.StockMovement) {
	if s.events == nil {
		return
	}

	event := domain.StockMovedEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  movement.Transaction.CreatedAt,
		ProductName: movement.ProductName,
		Transaction: movement.Transaction,
	}
	if err := s.events.PublishStockMoved(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("failed to publish stock moved event",
			"transaction_id", movement.Transaction.ID,
			"error", err,
		)
	}
}

func (s *LedgerService) observe(txType domain.TransactionType, outcome string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveMovement(txType, outcome, elapsed)
	}
}

func outcomeOf(err error) string {
	var validationErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/port"
)

const RecentTransactionsLimit = 100

var skuPattern = regexp.MustCompile(`^[A-Z0-9-]+$`)

// CatalogService owns product and category metadata. It never writes quantities;
// initial stock on create goes through the ledger.
type CatalogService struct {
	products     port.ProductRepository
	categories   port.CategoryRepository
	transactions port.TransactionRepository
	ledger       *LedgerService
	logger       *slog.Logger
}

func NewCatalogService(
	products port.ProductRepository,
	categories port.CategoryRepository,
	transactions port.TransactionRepository,
	ledger *LedgerService,
	logger *slog.Logger,
) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		products:     products,
		categories:   categories,
		transactions: transactions,
		ledger:       ledger,
		logger:       logger,
	}
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.products.ListProducts(ctx)
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.NewValidationError("id", "invalid product id")
	}
	return s.products.GetProduct(ctx, id)
}

func (s *CatalogService) CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)

	if err := validateName(in.Name); err != nil {
		return domain.Product{}, err
	}
	if err := validateSKU(in.SKU); err != nil {
		return domain.Product{}, err
	}
	if err := validateDescription(in.Description); err != nil {
		return domain.Product{}, err
	}
	if in.MinQuantity < 0 {
		return domain.Product{}, domain.NewValidationError("min_quantity", "min_quantity must be greater than or equal to 0")
	}
	if err := validatePrice(in.Price); err != nil {
		return domain.Product{}, err
	}
	if in.InitialQuantity < 0 {
		return domain.Product{}, domain.NewValidationError("quantity", "quantity must be greater than or equal to 0")
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return domain.Product{}, err
	}

	exists, err := s.products.SKUExists(ctx, in.SKU, 0)
	if err != nil {
		return domain.Product{}, fmt.Errorf("check sku: %w", err)
	}
	if exists {
		return domain.Product{}, domain.ErrDuplicateSKU
	}

	if in.InitialQuantity == 0 {
		return s.products.CreateProduct(ctx, in)
	}

	movement, err := s.ledger.Open(ctx, in)
	if err != nil {
		s.logger.Error("failed to create product with initial stock", "sku", in.SKU, "error", err)
		return domain.Product{}, fmt.Errorf("create product with initial stock: %w", err)
	}
	return s.products.GetProduct(ctx, movement.Transaction.ProductID)
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, domain.NewValidationError("id", "invalid product id")
	}
	if patch.Empty() {
		return domain.Product{}, domain.NewValidationError("body", "at least one field must be provided")
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := validateName(name); err != nil {
			return domain.Product{}, err
		}
		patch.Name = &name
	}
	if patch.SKU != nil {
		sku := strings.TrimSpace(*patch.SKU)
		if err := validateSKU(sku); err != nil {
			return domain.Product{}, err
		}
		patch.SKU = &sku
	}
	if patch.Description != nil {
		if err := validateDescription(*patch.Description); err != nil {
			return domain.Product{}, err
		}
	}
	if patch.MinQuantity != nil && *patch.MinQuantity < 0 {
		return domain.Product{}, domain.NewValidationError("min_quantity", "min_quantity must be greater than or equal to 0")
	}
	if patch.Price != nil {
		if err := validatePrice(*patch.Price); err != nil {
			return domain.Product{}, err
		}
	}

	if _, err := s.products.GetProduct(ctx, id); err != nil {
		return domain.Product{}, err
	}
	if err := s.checkCategory(ctx, patch.CategoryID); err != nil {
		return domain.Product{}, err
	}
	if patch.SKU != nil {
		exists, err := s.products.SKUExists(ctx, *patch.SKU, id)
		if err != nil {
			return domain.Product{}, fmt.Errorf("check sku: %w", err)
		}
		if exists {
			return domain.Product{}, domain.ErrDuplicateSKU
		}
	}

	return s.products.UpdateProduct(ctx, id, patch)
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.NewValidationError("id", "invalid product id")
	}
	return s.products.DeleteProduct(ctx, id)
}

// ListProductTransactions returns the latest ledger rows for a product, newest first.
func (s *CatalogService) ListProductTransactions(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	if productID <= 0 {
		return nil, domain.NewValidationError("id", "invalid product id")
	}
	return s.transactions.RecentTransactions(ctx, productID, RecentTransactionsLimit)
}

// VerifyLedger replays a product's full ledger and compares the result with the
// stored balance. The two reads are not taken under one lock, so a movement
// committed in between shows up as a mismatch; callers should retry before
// treating it as corruption.
func (s *CatalogService) VerifyLedger(ctx context.Context, productID int64) (domain.LedgerReport, error) {
	if productID <= 0 {
		return domain.LedgerReport{}, domain.NewValidationError("id", "invalid product id")
	}

	history, err := s.transactions.LedgerHistory(ctx, productID)
	if err != nil {
		return domain.LedgerReport{}, err
	}
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.LedgerReport{}, err
	}

	report := domain.LedgerReport{
		ProductID:        productID,
		StoredQuantity:   product.Quantity(),
		TransactionCount: len(history),
	}

	replayed, err := domain.ReplayLedger(history)
	report.ReplayedQuantity = replayed
	if err != nil {
		report.Problem = err.Error()
		return report, nil
	}

	report.Consistent = replayed == product.Quantity()
	if !report.Consistent {
		report.Problem = fmt.Sprintf("replayed quantity %d differs from stored quantity %d", replayed, product.Quantity())
	}
	return report, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.categories.ListCategories(ctx)
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	if id <= 0 {
		return domain.Category{}, domain.NewValidationError("id", "invalid category id")
	}
	return s.categories.GetCategory(ctx, id)
}

func (s *CatalogService) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if err := validateCategoryName(name); err != nil {
		return domain.Category{}, err
	}
	return s.categories.CreateCategory(ctx, name)
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id int64, name string) (domain.Category, error) {
	if id <= 0 {
		return domain.Category{}, domain.NewValidationError("id", "invalid category id")
	}
	name = strings.TrimSpace(name)
	if err := validateCategoryName(name); err != nil {
		return domain.Category{}, err
	}
	return s.categories.UpdateCategory(ctx, id, name)
}

func (s *CatalogService) DeleteCategory(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.NewValidationError("id", "invalid category id")
	}
	return s.categories.DeleteCategory(ctx, id)
}

func (s *CatalogService) checkCategory(ctx context.Context, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	if *categoryID <= 0 {
		return domain.NewValidationError("category_id", "invalid category id")
	}
	if _, err := s.categories.GetCategory(ctx, *categoryID); err != nil {
		if errors.Is(err, domain.ErrCategoryNotFound) {
			return domain.NewValidationError("category_id", "category %d does not exist", *categoryID)
		}
		return err
	}
	return nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 200 {
		return domain.NewValidationError("name", "name must be between 2 and 200 characters")
	}
	return nil
}

func validateSKU(sku string) error {
	if !skuPattern.MatchString(sku) {
		return domain.NewValidationError("sku", "sku must contain only uppercase letters, digits and hyphens")
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > 1000 {
		return domain.NewValidationError("description", "description must be at most 1000 characters")
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return domain.NewValidationError("price", "price must be positive")
	}
	if !price.Equal(price.Round(2)) {
		return domain.NewValidationError("price", "price must have at most 2 decimal places")
	}
	return nil
}

func validateCategoryName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > 100 {
		return domain.NewValidationError("name", "name must be between 1 and 100 characters")
	}
	return nil
}

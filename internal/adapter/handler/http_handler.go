package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-tracker/internal/core/domain"
	"github.com/rl1809/inventory-tracker/internal/core/service"
	"github.com/rl1809/inventory-tracker/internal/logging"
	"github.com/rl1809/inventory-tracker/internal/metrics"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

type HTTPHandler struct {
	catalog   *service.CatalogService
	ledger    *service.LedgerService
	analytics *service.AnalyticsService

	validate       *validator.Validate
	metrics        *metrics.Metrics
	requestTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

type HTTPOptions struct {
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type CreateProductHTTPRequest struct {
	Name        string           `json:"name" validate:"required,min=2,max=200"`
	CategoryID  *int64           `json:"category_id" validate:"omitempty,gt=0"`
	SKU         string           `json:"sku" validate:"required,sku"`
	Description string           `json:"description" validate:"max=1000"`
	Quantity    *int64           `json:"quantity" validate:"omitempty,gte=0"`
	MinQuantity *int64           `json:"min_quantity" validate:"omitempty,gte=0"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
}

// UpdateProductHTTPRequest accepts quantity only to reject it with a clear message.
type UpdateProductHTTPRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=2,max=200"`
	CategoryID  *int64           `json:"category_id" validate:"omitempty,gt=0"`
	SKU         *string          `json:"sku" validate:"omitempty,sku"`
	Description *string          `json:"description" validate:"omitempty,max=1000"`
	MinQuantity *int64           `json:"min_quantity" validate:"omitempty,gte=0"`
	Price       *decimal.Decimal `json:"price"`
	Quantity    *json.RawMessage `json:"quantity"`
}

type StockHTTPRequest struct {
	Quantity *int64 `json:"quantity" validate:"required,gte=1"`
	Notes    string `json:"notes" validate:"max=500"`
}

type StockHTTPResponse struct {
	Message     string             `json:"message"`
	Transaction domain.Transaction `json:"transaction"`
	ProductName string             `json:"product_name"`
}

type CategoryHTTPRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type DeletedHTTPResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type InsufficientStockHTTPResponse struct {
	Error     string `json:"error"`
	Available int64  `json:"available"`
	Requested int64  `json:"requested"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(
	catalog *service.CatalogService,
	ledger *service.LedgerService,
	analytics *service.AnalyticsService,
	opts HTTPOptions,
) *HTTPHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		catalog:        catalog,
		ledger:         ledger,
		analytics:      analytics,
		validate:       newValidator(),
		metrics:        opts.Metrics,
		requestTimeout: opts.RequestTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// Routes returns the full HTTP surface wrapped in the middleware chain.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("PUT /api/products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /api/products/{id}", h.DeleteProduct)

	mux.HandleFunc("POST /api/products/{id}/stock/in", h.AddStock)
	mux.HandleFunc("POST /api/products/{id}/stock/out", h.RemoveStock)

	mux.HandleFunc("GET /api/products/{id}/transactions", h.ListTransactions)
	mux.HandleFunc("GET /api/products/{id}/ledger/verify", h.VerifyLedger)

	mux.HandleFunc("GET /api/categories", h.ListCategories)
	mux.HandleFunc("POST /api/categories", h.CreateCategory)
	mux.HandleFunc("GET /api/categories/{id}", h.GetCategory)
	mux.HandleFunc("PUT /api/categories/{id}", h.UpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", h.DeleteCategory)

	mux.HandleFunc("GET /api/analytics", h.Analytics)
	mux.HandleFunc("GET /health", h.HealthCheck)

	var inner http.Handler = mux
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
		inner = h.metrics.Middleware(mux)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Error: "Route not found"})
	})

	return h.recoverer(h.requestLogger(cors(h.withTimeout(inner))))
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "product")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := domain.NewProduct{
		Name:        req.Name,
		CategoryID:  req.CategoryID,
		SKU:         req.SKU,
		Description: req.Description,
		MinQuantity: domain.DefaultMinQuantity,
		Price:       *req.Price,
	}
	if req.MinQuantity != nil {
		in.MinQuantity = *req.MinQuantity
	}
	if req.Quantity != nil {
		in.InitialQuantity = *req.Quantity
	}

	product, err := h.catalog.CreateProduct(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "product")
	if !ok {
		return
	}

	var req UpdateProductHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Quantity != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Error: "quantity cannot be updated directly, use the stock in/out endpoints",
		})
		return
	}

	product, err := h.catalog.UpdateProduct(r.Context(), id, domain.ProductPatch{
		Name:        req.Name,
		CategoryID:  req.CategoryID,
		SKU:         req.SKU,
		Description: req.Description,
		MinQuantity: req.MinQuantity,
		Price:       req.Price,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "product")
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedHTTPResponse{Message: "Product deleted successfully", ID: id})
}

func (h *HTTPHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, domain.TransactionIn)
}

func (h *HTTPHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, domain.TransactionOut)
}

func (h *HTTPHandler) moveStock(w http.ResponseWriter, r *http.Request, txType domain.TransactionType) {
	id, ok := h.pathID(w, r, "product")
	if !ok {
		return
	}

	var req StockHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	stockReq := service.StockRequest{
		ProductID:      id,
		Quantity:       *req.Quantity,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}

	var (
		movement domain.StockMovement
		err      error
		message  string
	)
	if txType == domain.TransactionIn {
		movement, err = h.ledger.Receive(r.Context(), stockReq)
		message = "Stock added successfully"
	} else {
		movement, err = h.ledger.Issue(r.Context(), stockReq)
		message = "Stock removed successfully"
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StockHTTPResponse{
		Message:     message,
		Transaction: movement.Transaction,
		ProductName: movement.ProductName,
	})
}

func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "product")
	if !ok {
		return
	}

	txs, err := h.catalog.ListProductTransactions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *HTTPHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "product")
	if !ok {
		return
	}

	report, err := h.catalog.VerifyLedger(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !report.Consistent {
		logging.FromContext(r.Context(), h.logger).Warn("ledger replay mismatch",
			"product_id", id,
			"stored_quantity", report.StoredQuantity,
			"replayed_quantity", report.ReplayedQuantity,
			"problem", report.Problem,
		)
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *HTTPHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "category")
	if !ok {
		return
	}

	category, err := h.catalog.GetCategory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (h *HTTPHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	category, err := h.catalog.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *HTTPHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "category")
	if !ok {
		return
	}

	var req CategoryHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	category, err := h.catalog.UpdateCategory(r.Context(), id, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (h *HTTPHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "category")
	if !ok {
		return
	}

	if err := h.catalog.DeleteCategory(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedHTTPResponse{Message: "Category deleted successfully", ID: id})
}

func (h *HTTPHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	report, err := h.analytics.Report(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request, resource string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: fmt.Sprintf("invalid %s id", resource)})
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into dst and runs struct validation. It writes the
// 400 response itself and reports whether the caller should continue.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: validationMessage(err)})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr   *domain.ValidationError
		insufficientErr *domain.InsufficientStockError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: validationErr.Message})
	case errors.As(err, &insufficientErr):
		writeJSON(w, http.StatusBadRequest, InsufficientStockHTTPResponse{
			Error:     "Insufficient stock",
			Available: insufficientErr.Available,
			Requested: insufficientErr.Requested,
		})
	case errors.Is(err, domain.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Error: "Product not found"})
	case errors.Is(err, domain.ErrCategoryNotFound):
		writeJSON(w, http.StatusNotFound, ErrorHTTPResponse{Error: "Category not found"})
	case errors.Is(err, domain.ErrDuplicateSKU):
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "Product with this SKU already exists"})
	case errors.Is(err, service.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, ErrorHTTPResponse{Error: "Duplicate request"})
	case errors.Is(err, context.DeadlineExceeded):
		logging.FromContext(r.Context(), h.logger).Warn("request timed out", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorHTTPResponse{Error: "Request timed out"})
	default:
		logging.FromContext(r.Context(), h.logger).Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorHTTPResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

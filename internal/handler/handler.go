// Package handler provides the HTTP API for the product lifecycle.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/service"
)

const (
	contentTypeJSON        = "Content-Type"
	applicationJSON        = "application/json"
	failedToEncodeResponse = "failed to encode response"
	idempotencyKeyHeader   = "Idempotency-Key"
	defaultLowStock        = 5
	maxBodyBytes           = 1 << 20
	healthTimeout          = 2 * time.Second
)

// StorageCheck reports whether storage is reachable.
type StorageCheck func(ctx context.Context) error

// ProductHandler handles HTTP requests for product management.
type ProductHandler struct {
	products service.ProductService
	outbox   service.OutboxService
	storage  StorageCheck
}

// NewProductHandler creates a new handler. outbox and storage feed the health endpoint
// and may be nil.
func NewProductHandler(products service.ProductService, outbox service.OutboxService, storage StorageCheck) *ProductHandler {
	return &ProductHandler{products: products, outbox: outbox, storage: storage}
}

type createProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
}

type updateProductRequest struct {
	ExpectedVersion *int64               `json:"expectedVersion"`
	Name            *string              `json:"name"`
	Description     *string              `json:"description"`
	Price           *decimal.Decimal     `json:"price"`
	Stock           *int64               `json:"stock"`
	Status          *model.ProductStatus `json:"status"`
}

type updateStockRequest struct {
	ExpectedVersion *int64 `json:"expectedVersion"`
	Stock           *int64 `json:"stock"`
}

type healthResponse struct {
	Status           string `json:"status"`
	Storage          string `json:"storage"`
	PendingEvents    int64  `json:"pendingEvents"`
	FailedEvents     int64  `json:"failedEvents"`
	OldestPendingAge string `json:"oldestPendingAge"`
}

type replayResponse struct {
	Replayed int64 `json:"replayed"`
}

// CreateProduct handles POST /api/products.
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := h.products.Create(r.Context(), &model.CreateProductParams{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/products/"+product.ID.String())
	writeJSON(w, http.StatusCreated, product)
}

// GetProduct handles GET /api/products/{id}.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	product, err := h.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// ListProducts handles GET /api/products.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	includeDeleted, err := strconv.ParseBool(r.URL.Query().Get("includeDeleted"))
	if err != nil && r.URL.Query().Has("includeDeleted") {
		writeError(w, r, badRequest("includeDeleted", "must be a boolean"))
		return
	}

	products, err := h.products.List(r.Context(), model.ListParams{
		Limit:          int(limit),
		Offset:         int(offset),
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// ListLowStock handles GET /api/products/low-stock.
func (h *ProductHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryInt(r, "threshold", defaultLowStock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	products, err := h.products.ListLowStock(r.Context(), threshold, int(limit))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// UpdateProduct handles PUT /api/products/{id}.
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.ExpectedVersion == nil {
		writeError(w, r, badRequest("expectedVersion", "is required"))
		return
	}

	product, err := h.products.Update(r.Context(), id, *req.ExpectedVersion, &model.UpdateProductParams{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Status:      req.Status,
	}, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// UpdateStock handles PATCH /api/products/{id}/stock.
func (h *ProductHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateStockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	verr := &model.ValidationError{}
	if req.ExpectedVersion == nil {
		verr.Add("expectedVersion", "is required")
	}

	if req.Stock == nil {
		verr.Add("stock", "is required")
	}

	if err := verr.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := h.products.UpdateStock(r.Context(), id, *req.ExpectedVersion, *req.Stock,
		r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// DeleteProduct handles DELETE /api/products/{id}?expectedVersion=N.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !r.URL.Query().Has("expectedVersion") {
		writeError(w, r, badRequest("expectedVersion", "is required"))
		return
	}

	expectedVersion, err := queryInt(r, "expectedVersion", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	product, err := h.products.Delete(r.Context(), id, expectedVersion, r.Header.Get(idempotencyKeyHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// HealthCheck handles GET /health. Storage failures report 503; a FAILED backlog is
// reported but keeps the service up, since writes still commit.
func (h *ProductHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Storage: "ok", OldestPendingAge: "0s"}

	if h.storage != nil {
		if err := h.storage(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Storage = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)

			return
		}
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(ctx)
		if err != nil {
			resp.Status = "unavailable"
			resp.Storage = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)

			return
		}

		resp.PendingEvents = stats.PendingCount
		resp.FailedEvents = stats.FailedCount
		resp.OldestPendingAge = stats.OldestPendingAge.Truncate(time.Millisecond).String()

		if stats.FailedCount > 0 {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReplayFailed handles POST /api/outbox/replay.
func (h *ProductHandler) ReplayFailed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if limit < 0 {
		writeError(w, r, badRequest("limit", "must not be negative"))
		return
	}

	replayed, err := h.outbox.ReplayFailed(r.Context(), int(limit))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, replayResponse{Replayed: replayed})
}

func productID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, badRequest("id", "must be a UUID")
	}

	return id, nil
}

func queryInt(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}

	return v, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("body", "must not be empty")
		}

		return badRequest("body", fmt.Sprintf("invalid JSON: %v", err))
	}

	return nil
}

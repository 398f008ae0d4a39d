package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/product-lifecycle-service/internal/db"
	"github.com/jnst/product-lifecycle-service/internal/model"
)

const defaultListLimit = 100

// ProductRepositoryImpl implements ProductRepository using PostgreSQL.
type ProductRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewProductRepositoryImpl creates a new ProductRepository implementation.
func NewProductRepositoryImpl(pool *pgxpool.Pool) ProductRepository {
	return &ProductRepositoryImpl{pool: pool}
}

// Get retrieves a product by ID.
func (r *ProductRepositoryImpl) Get(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	dbProduct, err := queries(ctx, r.pool).GetProduct(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, model.ErrNotFound
		}

		return nil, model.StorageError("get product", err)
	}

	return toProduct(&dbProduct), nil
}

// Insert creates a new product at version 0.
func (r *ProductRepositoryImpl) Insert(ctx context.Context, product *model.Product) (*model.Product, error) {
	dbProduct, err := queries(ctx, r.pool).CreateProduct(ctx, &db.CreateProductParams{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		Stock:       product.Stock,
		Status:      string(product.Status),
		CreatedAt:   timestamptz(product.CreatedAt),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrAlreadyExists
		}

		return nil, model.StorageError("insert product", err)
	}

	return toProduct(&dbProduct), nil
}

// UpdateWithVersionCheck applies mutate when the stored version equals expectedVersion.
func (r *ProductRepositoryImpl) UpdateWithVersionCheck(
	ctx context.Context, id uuid.UUID, expectedVersion int64, mutate ProductMutator,
) (*model.Product, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.IsDeleted() {
		return nil, model.ErrTerminalState
	}

	if current.Version != expectedVersion {
		return nil, model.ErrVersionConflict
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	dbProduct, err := queries(ctx, r.pool).UpdateProductVersioned(ctx, &db.UpdateProductVersionedParams{
		ID:          id,
		Version:     expectedVersion,
		Name:        next.Name,
		Description: next.Description,
		Price:       next.Price,
		Stock:       next.Stock,
		Status:      string(next.Status),
		UpdatedAt:   timestamptz(next.UpdatedAt),
	})
	if err != nil {
		if isNoRows(err) {
			// A concurrent writer committed between the read and the conditional update.
			return nil, r.classifyLostUpdate(ctx, id)
		}

		return nil, model.StorageError("update product", err)
	}

	return toProduct(&dbProduct), nil
}

// List retrieves products ordered by creation time.
func (r *ProductRepositoryImpl) List(ctx context.Context, params model.ListParams) ([]*model.Product, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	dbProducts, err := queries(ctx, r.pool).ListProducts(ctx, &db.ListProductsParams{
		IncludeDeleted: params.IncludeDeleted,
		RowLimit:       int32(limit),
		RowOffset:      int32(max(params.Offset, 0)),
	})
	if err != nil {
		return nil, model.StorageError("list products", err)
	}

	return toProducts(dbProducts), nil
}

// ListLowStock retrieves active products whose stock is below threshold.
func (r *ProductRepositoryImpl) ListLowStock(ctx context.Context, threshold int64, limit int) ([]*model.Product, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	dbProducts, err := queries(ctx, r.pool).ListLowStockProducts(ctx, &db.ListLowStockProductsParams{
		Stock: threshold,
		Limit: int32(limit),
	})
	if err != nil {
		return nil, model.StorageError("list low stock products", err)
	}

	return toProducts(dbProducts), nil
}

func (r *ProductRepositoryImpl) classifyLostUpdate(ctx context.Context, id uuid.UUID) error {
	latest, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if latest.IsDeleted() {
		return model.ErrTerminalState
	}

	return model.ErrVersionConflict
}

func toProduct(p *db.Product) *model.Product {
	return &model.Product{
		ID:          p.ID,
		Version:     p.Version,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Status:      model.ProductStatus(p.Status),
		CreatedAt:   p.CreatedAt.Time.UTC(),
		UpdatedAt:   p.UpdatedAt.Time.UTC(),
	}
}

func toProducts(rows []db.Product) []*model.Product {
	products := make([]*model.Product, len(rows))
	for i := range rows {
		products[i] = toProduct(&rows[i])
	}

	return products
}


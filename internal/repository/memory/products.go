package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
)

const defaultListLimit = 100

type productRepository struct {
	store *Store
}

func (r *productRepository) Get(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("get product", err)
	}

	var found *model.Product

	err := r.store.run(ctx, func(tx *txState) error {
		p, ok := r.store.lookupProduct(tx, id)
		if !ok {
			return model.ErrNotFound
		}

		found = p

		return nil
	})

	return found, err
}

func (r *productRepository) Insert(ctx context.Context, product *model.Product) (*model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("insert product", err)
	}

	inserted := product.Clone()
	inserted.Version = 0
	inserted.UpdatedAt = inserted.CreatedAt

	err := r.store.run(ctx, func(tx *txState) error {
		if _, exists := r.store.lookupProduct(tx, product.ID); exists {
			return model.ErrAlreadyExists
		}

		tx.products[inserted.ID] = inserted
		tx.expected[inserted.ID] = insertMarker

		return nil
	})
	if err != nil {
		return nil, err
	}

	return inserted.Clone(), nil
}

func (r *productRepository) UpdateWithVersionCheck(
	ctx context.Context, id uuid.UUID, expectedVersion int64, mutate repository.ProductMutator,
) (*model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("update product", err)
	}

	var updated *model.Product

	err := r.store.run(ctx, func(tx *txState) error {
		current, ok := r.store.lookupProduct(tx, id)
		if !ok {
			return model.ErrNotFound
		}

		if current.IsDeleted() {
			return model.ErrTerminalState
		}

		if current.Version != expectedVersion {
			return model.ErrVersionConflict
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return err
		}

		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1

		if _, staged := tx.expected[id]; !staged {
			tx.expected[id] = current.Version
		}

		tx.products[id] = next
		updated = next.Clone()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *productRepository) List(ctx context.Context, params model.ListParams) ([]*model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("list products", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	products := r.snapshot(func(p *model.Product) bool {
		return params.IncludeDeleted || !p.IsDeleted()
	})

	sort.Slice(products, func(i, j int) bool {
		if products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].ID.String() < products[j].ID.String()
		}

		return products[i].CreatedAt.Before(products[j].CreatedAt)
	})

	return page(products, max(params.Offset, 0), limit), nil
}

func (r *productRepository) ListLowStock(ctx context.Context, threshold int64, limit int) ([]*model.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("list low stock products", err)
	}

	if limit <= 0 {
		limit = defaultListLimit
	}

	products := r.snapshot(func(p *model.Product) bool {
		return p.Status == model.ProductStatusActive && p.Stock < threshold
	})

	sort.Slice(products, func(i, j int) bool {
		if products[i].Stock == products[j].Stock {
			return products[i].ID.String() < products[j].ID.String()
		}

		return products[i].Stock < products[j].Stock
	})

	return page(products, 0, limit), nil
}

func (r *productRepository) snapshot(keep func(*model.Product) bool) []*model.Product {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	products := make([]*model.Product, 0, len(r.store.products))
	for _, p := range r.store.products {
		if keep(p) {
			products = append(products, p.Clone())
		}
	}

	return products
}

func page(products []*model.Product, offset, limit int) []*model.Product {
	if offset >= len(products) {
		return []*model.Product{}
	}

	end := min(offset+limit, len(products))

	return products[offset:end]
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jnst/product-lifecycle-service/internal/codec"
	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
)

const (
	defaultWriteTimeout = 5 * time.Second
	tracerName          = "github.com/jnst/product-lifecycle-service/internal/service"
)

// ProductServiceOption configures ProductServiceImpl.
type ProductServiceOption func(*ProductServiceImpl)

// WithClock sets the clock used for product timestamps.
func WithClock(now func() time.Time) ProductServiceOption {
	return func(s *ProductServiceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWriteTimeout bounds every write transaction.
func WithWriteTimeout(d time.Duration) ProductServiceOption {
	return func(s *ProductServiceImpl) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// ProductServiceImpl implements ProductService.
type ProductServiceImpl struct {
	productRepo  repository.ProductRepository
	outboxRepo   repository.OutboxRepository
	txManager    repository.TransactionManager
	guard        IdempotencyGuard
	now          func() time.Time
	writeTimeout time.Duration
	tracer       trace.Tracer
}

// NewProductServiceImpl creates a new ProductService implementation.
func NewProductServiceImpl(
	productRepo repository.ProductRepository,
	outboxRepo repository.OutboxRepository,
	txManager repository.TransactionManager,
	guard IdempotencyGuard,
	opts ...ProductServiceOption,
) ProductService {
	s := &ProductServiceImpl{
		productRepo:  productRepo,
		outboxRepo:   outboxRepo,
		txManager:    txManager,
		guard:        guard,
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
		tracer:       otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create inserts a new ACTIVE product at version 0 and queues its CREATED event.
func (s *ProductServiceImpl) Create(
	ctx context.Context, params *model.CreateProductParams, requestKey string,
) (*model.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Create")
	defer span.End()

	if err := params.Validate(); err != nil {
		return nil, recordSpanError(span, err)
	}

	w := write{
		op:         "create",
		requestKey: requestKey,
		body:       params,
		eventType:  model.EventTypeCreated,
		apply: func(ctx context.Context) (*model.Product, error) {
			now := s.now().UTC()

			return s.productRepo.Insert(ctx, &model.Product{
				ID:          uuid.New(),
				Name:        params.Name,
				Description: params.Description,
				Price:       params.Price,
				Stock:       params.Stock,
				Status:      model.ProductStatusActive,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		},
	}

	product, err := s.execute(ctx, w)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	span.SetAttributes(attribute.String("product.id", product.ID.String()))

	return product, nil
}

// Update applies a partial update conditioned on expectedVersion.
func (s *ProductServiceImpl) Update(
	ctx context.Context, id uuid.UUID, expectedVersion int64, params *model.UpdateProductParams, requestKey string,
) (*model.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Update", trace.WithAttributes(
		attribute.String("product.id", id.String()),
		attribute.Int64("product.expected_version", expectedVersion),
	))
	defer span.End()

	if err := params.Validate(); err != nil {
		return nil, recordSpanError(span, err)
	}

	product, err := s.mutate(ctx, "update", id, expectedVersion, params, requestKey, model.EventTypeUpdated,
		func(p *model.Product) {
			params.Apply(p)
		})
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	return product, nil
}

// UpdateStock sets the stock level conditioned on expectedVersion.
func (s *ProductServiceImpl) UpdateStock(
	ctx context.Context, id uuid.UUID, expectedVersion, stock int64, requestKey string,
) (*model.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.UpdateStock", trace.WithAttributes(
		attribute.String("product.id", id.String()),
		attribute.Int64("product.expected_version", expectedVersion),
	))
	defer span.End()

	if stock < 0 {
		verr := &model.ValidationError{}
		verr.Add("stock", "must not be negative")

		return nil, recordSpanError(span, verr)
	}

	body := struct {
		Stock int64 `json:"stock"`
	}{Stock: stock}

	product, err := s.mutate(ctx, "update_stock", id, expectedVersion, body, requestKey, model.EventTypeUpdated,
		func(p *model.Product) {
			p.Stock = stock
		})
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	return product, nil
}

// Delete moves the product to the terminal DELETED status.
func (s *ProductServiceImpl) Delete(
	ctx context.Context, id uuid.UUID, expectedVersion int64, requestKey string,
) (*model.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Delete", trace.WithAttributes(
		attribute.String("product.id", id.String()),
		attribute.Int64("product.expected_version", expectedVersion),
	))
	defer span.End()

	product, err := s.mutate(ctx, "delete", id, expectedVersion, nil, requestKey, model.EventTypeDeleted,
		func(p *model.Product) {
			p.Status = model.ProductStatusDeleted
		})
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	return product, nil
}

// Get retrieves a product by ID, including deleted ones.
func (s *ProductServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return s.productRepo.Get(ctx, id)
}

// List retrieves a page of products.
func (s *ProductServiceImpl) List(ctx context.Context, params model.ListParams) ([]*model.Product, error) {
	return s.productRepo.List(ctx, params)
}

// ListLowStock retrieves active products whose stock is below threshold.
func (s *ProductServiceImpl) ListLowStock(ctx context.Context, threshold int64, limit int) ([]*model.Product, error) {
	if threshold < 0 {
		verr := &model.ValidationError{}
		verr.Add("threshold", "must not be negative")

		return nil, verr
	}

	return s.productRepo.ListLowStock(ctx, threshold, limit)
}

func (s *ProductServiceImpl) mutate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	expectedVersion int64,
	body any,
	requestKey string,
	eventType model.EventType,
	change func(p *model.Product),
) (*model.Product, error) {
	return s.execute(ctx, write{
		op:              op,
		id:              id,
		expectedVersion: expectedVersion,
		requestKey:      requestKey,
		body:            body,
		eventType:       eventType,
		apply: func(ctx context.Context) (*model.Product, error) {
			return s.productRepo.UpdateWithVersionCheck(ctx, id, expectedVersion, func(p *model.Product) error {
				change(p)
				p.Touch(s.now())

				return nil
			})
		},
	})
}

// write describes one state change and the event it emits.
type write struct {
	op              string
	id              uuid.UUID
	expectedVersion int64
	requestKey      string
	body            any
	eventType       model.EventType
	apply           func(ctx context.Context) (*model.Product, error)
}

func (s *ProductServiceImpl) execute(ctx context.Context, w write) (*model.Product, error) {
	var requestHash string

	if w.requestKey != "" {
		hash, err := requestHashOf(w)
		if err != nil {
			return nil, err
		}

		requestHash = hash

		reservation, err := s.guard.CheckAndReserve(ctx, w.requestKey, requestHash)
		if err != nil {
			return nil, err
		}

		if reservation.Duplicate {
			slog.DebugContext(ctx, "idempotent replay",
				slog.String("op", w.op),
				slog.String("request_key", w.requestKey),
				slog.String("product_id", reservation.Product.ID.String()),
			)

			return reservation.Product, nil
		}
	}

	txCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	var product *model.Product

	err := s.txManager.WithTransaction(txCtx, func(ctx context.Context) error {
		p, err := w.apply(ctx)
		if err != nil {
			return err
		}

		if err := s.appendEvent(ctx, w.eventType, p); err != nil {
			return err
		}

		if w.requestKey != "" {
			if err := s.guard.Record(ctx, w.requestKey, requestHash, p); err != nil {
				return err
			}
		}

		product = p

		return nil
	})

	if errors.Is(err, model.ErrDuplicateRequest) {
		// A concurrent request with the same key committed first; answer with its outcome.
		reservation, rerr := s.guard.CheckAndReserve(ctx, w.requestKey, requestHash)
		if rerr != nil {
			return nil, rerr
		}

		if reservation.Duplicate {
			return reservation.Product, nil
		}

		// The winner's record is gone already; the caller has to retry.
		return nil, fmt.Errorf("%w: request key %q raced a concurrent request: %w",
			model.ErrVersionConflict, w.requestKey, err)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrStorage) {
			err = model.StorageError(w.op, err)
		}

		return nil, err
	}

	slog.InfoContext(ctx, "product changed",
		slog.String("op", w.op),
		slog.String("product_id", product.ID.String()),
		slog.Int64("version", product.Version),
		slog.String("event_type", string(w.eventType)),
	)

	return product, nil
}

func (s *ProductServiceImpl) appendEvent(ctx context.Context, eventType model.EventType, p *model.Product) error {
	seq, err := s.outboxRepo.NextSequenceID(ctx)
	if err != nil {
		return err
	}

	payload, err := codec.Encode(model.NewProductEvent(eventType, seq, p))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	_, err = s.outboxRepo.CreateEntry(ctx, &model.CreateOutboxEntryParams{
		SequenceID:    seq,
		AggregateID:   p.ID,
		AggregateType: model.AggregateTypeProduct,
		EventType:     eventType,
		Payload:       payload,
	})

	return err
}

// requestHashOf fingerprints the operation and its canonical body so a reused key with a
// different request can be told apart from a retry.
func requestHashOf(w write) (string, error) {
	canonical, err := json.Marshal(struct {
		Op              string    `json:"op"`
		ID              uuid.UUID `json:"id"`
		ExpectedVersion int64     `json:"expectedVersion"`
		Body            any       `json:"body"`
	}{w.op, w.id, w.expectedVersion, w.body})
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}

	return codec.ContentHash(canonical), nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}

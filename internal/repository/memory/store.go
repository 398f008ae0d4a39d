// Package memory provides in-process implementations of the repository interfaces.
//
// Writes made inside WithTransaction are staged and validated at commit: a product staged
// from version N commits only if the stored version is still N, so concurrent writers never
// block each other and the loser sees model.ErrVersionConflict. A failed transaction leaves
// no trace. The store backs unit tests and STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
)

const insertMarker = -1

type txKey struct{}

type txState struct {
	products map[uuid.UUID]*model.Product
	expected map[uuid.UUID]int64
	outbox   []*model.OutboxEntry
	records  map[string]*model.IdempotencyRecord
}

func newTxState() *txState {
	return &txState{
		products: make(map[uuid.UUID]*model.Product),
		expected: make(map[uuid.UUID]int64),
		records:  make(map[string]*model.IdempotencyRecord),
	}
}

// Store holds products, outbox entries and idempotency records in memory.
type Store struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*model.Product
	outbox   map[int64]*model.OutboxEntry
	records  map[string]*model.IdempotencyRecord
	sequence atomic.Int64
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for outbox and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products: make(map[uuid.UUID]*model.Product),
		outbox:   make(map[int64]*model.OutboxEntry),
		records:  make(map[string]*model.IdempotencyRecord),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Products returns the product repository view of the store.
func (s *Store) Products() repository.ProductRepository { return &productRepository{store: s} }

// Outbox returns the outbox repository view of the store.
func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepository{store: s} }

// Idempotency returns the idempotency repository view of the store.
func (s *Store) Idempotency() repository.IdempotencyRepository {
	return &idempotencyRepository{store: s}
}

// TransactionManager returns a transaction manager bound to the store.
func (s *Store) TransactionManager() repository.TransactionManager { return &transactionManager{store: s} }

type transactionManager struct {
	store *Store
}

// WithTransaction stages every write made through ctx and commits them atomically.
func (tm *transactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	if err := ctx.Err(); err != nil {
		return model.StorageError("begin transaction", err)
	}

	tx := newTxState()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return model.StorageError("commit transaction", err)
	}

	return tm.store.commit(tx)
}

// run executes fn against the transaction in ctx, or commits it immediately when there is none.
func (s *Store) run(ctx context.Context, fn func(tx *txState) error) error {
	if tx, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(tx)
	}

	tx := newTxState()
	if err := fn(tx); err != nil {
		return err
	}

	return s.commit(tx)
}

func (s *Store) commit(tx *txState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for id, expected := range tx.expected {
		current, exists := s.products[id]

		switch {
		case expected == insertMarker && exists:
			return model.ErrAlreadyExists
		case expected == insertMarker:
		case !exists:
			return model.ErrNotFound
		case current.IsDeleted():
			return model.ErrTerminalState
		case current.Version != expected:
			return model.ErrVersionConflict
		}
	}

	for key := range tx.records {
		if existing, ok := s.records[key]; ok && !existing.Expired(now) {
			return model.ErrDuplicateRequest
		}
	}

	for id, p := range tx.products {
		s.products[id] = p.Clone()
	}

	for _, e := range tx.outbox {
		entry := *e
		s.outbox[e.SequenceID] = &entry
	}

	for key, r := range tx.records {
		record := *r
		s.records[key] = &record
	}

	return nil
}

func (s *Store) lookupProduct(tx *txState, id uuid.UUID) (*model.Product, bool) {
	if p, ok := tx.products[id]; ok {
		return p.Clone(), true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, false
	}

	return p.Clone(), true
}

// sortedEntries returns committed entries in sequence order. Callers hold s.mu.
func (s *Store) sortedEntries() []*model.OutboxEntry {
	entries := make([]*model.OutboxEntry, 0, len(s.outbox))
	for _, e := range s.outbox {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].SequenceID < entries[j].SequenceID })

	return entries
}

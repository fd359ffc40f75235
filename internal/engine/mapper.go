package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoUnitOfWork indicates a persisted usage whose observer is not tracking changes.
var ErrNoUnitOfWork = errors.New("persisted usage has no unit of work")

// DataMapper moves usages between memory and a RecordStore.
type DataMapper struct {
	store RecordStore
}

// NewDataMapper wraps a record store.
func NewDataMapper(store RecordStore) *DataMapper {
	return &DataMapper{store: store}
}

// Save inserts a new usage graph or flushes the unit of work of a loaded
// one, inside a single transaction. Afterwards the usage tracks changes with
// a fresh unit of work.
func (m *DataMapper) Save(ctx context.Context, u *Usage) error {
	ids := &idAssignments{}
	if !u.IsPersisted() {
		err := m.store.Transaction(ctx, func(tx RecordStore) error {
			return insertUsage(ctx, tx, u, ids)
		})
		if err != nil {
			return err
		}
		ids.apply()
		u.SetObserver(NewUnitOfWork(u))
		return nil
	}

	uow, ok := u.Observer().(*UnitOfWork)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoUnitOfWork, u.id)
	}
	if !uow.HasChanges() {
		return nil
	}
	err := m.store.Transaction(ctx, func(tx RecordStore) error {
		return uow.save(ctx, tx, ids)
	})
	if err != nil {
		return err
	}
	ids.apply()
	u.SetObserver(NewUnitOfWork(u))
	return nil
}

// Load rebuilds a usage and starts tracking its changes.
func (m *DataMapper) Load(ctx context.Context, usageID int64, questions QuestionSource, opts ...Option) (*Usage, error) {
	rows, err := m.store.LoadUsageRows(ctx, usageID)
	if err != nil {
		return nil, fmt.Errorf("load usage %d: %w", usageID, err)
	}
	u, err := LoadUsageFromRows(ctx, usageID, rows, questions, opts...)
	if err != nil {
		return nil, err
	}
	u.SetObserver(NewUnitOfWork(u))
	return u, nil
}

// Delete removes a usage with its attempts, steps and step data.
func (m *DataMapper) Delete(ctx context.Context, usageID int64) error {
	return m.store.Transaction(ctx, func(tx RecordStore) error {
		return tx.DeleteUsage(ctx, usageID)
	})
}

// Package unitofwork implements domain.UnitOfWork: one database
// transaction per command, inside which events are persisted, dispatched,
// and a fresh snapshot is upserted, all as a single atomic unit.
package unitofwork

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/nireo/usercore/pkg/domain"
)

// GormUnitOfWork wraps a single gorm transaction. An instance is used
// once: Commit or Rollback may each be called exactly once, and a second
// call of either returns ErrAlreadyFinished.
type GormUnitOfWork struct {
	db         *gorm.DB
	store      domain.EventStore
	dispatcher domain.EventDispatcher
	snapshots  domain.SnapshotStore
	logger     domain.Logger

	mu       sync.Mutex
	pending  []domain.Event
	snapshot *domain.Snapshot
	finished bool
}

// ErrAlreadyFinished is returned by Commit or Rollback when the unit of
// work has already been committed or rolled back.
var ErrAlreadyFinished = errFinished{}

type errFinished struct{}

func (errFinished) Error() string { return "unitofwork: already committed or rolled back" }

// txEventStore is implemented by an EventStore that can persist inside a
// transaction the caller already owns, instead of always opening its
// own. GormEventStore satisfies this.
type txEventStore interface {
	SaveTx(ctx context.Context, tx *gorm.DB, events []domain.Event) ([]domain.Envelope, error)
}

// txSnapshotStore is the snapshot-store analogue of txEventStore.
// GormSnapshotStore satisfies this.
type txSnapshotStore interface {
	SetTx(ctx context.Context, tx *gorm.DB, snapshot domain.Snapshot) error
}

// bestEffortDispatcher marks a dispatcher (pkg/dispatcher.AsyncDispatcher)
// whose Dispatch failure only means a broker enqueue didn't go through —
// the worker process can still pick the event up on retry, so it must
// not unwind an otherwise successful commit. A dispatcher without this
// marker (pkg/dispatcher.SyncDispatcher) runs handlers in-process, so its
// failure rolls back the whole transaction.
type bestEffortDispatcher interface {
	BestEffort() bool
}

func isBestEffort(d domain.EventDispatcher) bool {
	be, ok := d.(bestEffortDispatcher)
	return ok && be.BestEffort()
}

// NewGormUnitOfWork opens a new unit of work against store, dispatcher,
// and an optional snapshot store (nil disables the snapshot fast path).
// When store and snapshots are the GORM implementations in
// pkg/eventstore and pkg/snapshotstore, Commit runs the event append,
// synchronous dispatch, and the snapshot upsert inside one
// *gorm.DB.Transaction: any failure among them rolls back everything,
// including the event write. Against any other EventStore or
// SnapshotStore implementation — most often a test fake — Commit falls
// back to calling Save, Dispatch, and Set as independent steps, since
// there is then no shared transaction to fold them into.
func NewGormUnitOfWork(db *gorm.DB, store domain.EventStore, dispatcher domain.EventDispatcher, snapshots domain.SnapshotStore, logger domain.Logger) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, store: store, dispatcher: dispatcher, snapshots: snapshots, logger: logger}
}

// RegisterEvents queues events to be persisted on Commit.
func (u *GormUnitOfWork) RegisterEvents(events []domain.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, events...)
}

// RegisterSnapshot queues a snapshot to be upserted in the same
// transaction that persists the registered events. A later call replaces
// an earlier one; callers register at most one snapshot per unit of
// work, taken from the aggregate's state right before Commit.
func (u *GormUnitOfWork) RegisterSnapshot(snapshot domain.Snapshot) {
	u.mu.Lock()
	defer u.mu.Unlock()
	snap := snapshot
	u.snapshot = &snap
}

// Commit persists all registered events, dispatches the resulting
// envelopes, and upserts any registered snapshot. When the store and
// snapshot store both support a shared transaction, all three run inside
// one *gorm.DB.Transaction, so a handler failure during dispatch rolls
// back the event write too — a command either fully commits or leaves no
// trace. Without that support, the three steps run independently and a
// dispatch or snapshot failure cannot undo an already-saved event batch.
func (u *GormUnitOfWork) Commit(ctx context.Context) ([]domain.Envelope, error) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return nil, ErrAlreadyFinished
	}
	u.finished = true
	events := u.pending
	snapshot := u.snapshot
	u.pending = nil
	u.snapshot = nil
	u.mu.Unlock()

	if len(events) == 0 {
		return nil, nil
	}

	txStore, storeIsTx := u.store.(txEventStore)
	if u.db == nil || !storeIsTx {
		return u.commitIndependently(ctx, events, snapshot)
	}

	var envelopes []domain.Envelope
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		envelopes, err = txStore.SaveTx(ctx, tx, events)
		if err != nil {
			return err
		}

		if err := u.dispatcher.Dispatch(ctx, envelopes); err != nil {
			if isBestEffort(u.dispatcher) {
				if u.logger != nil {
					u.logger.Warn("best-effort dispatch failed, commit proceeds", "error", err)
				}
			} else {
				return err
			}
		}

		if snapshot != nil && u.snapshots != nil {
			if txSnapshots, ok := u.snapshots.(txSnapshotStore); ok {
				if err := txSnapshots.SetTx(ctx, tx, *snapshot); err != nil {
					return err
				}
			} else if err := u.snapshots.Set(ctx, *snapshot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if u.logger != nil {
			u.logger.Error("commit failed, rolled back", "error", err)
		}
		return nil, err
	}
	return envelopes, nil
}

// commitIndependently is the degraded path for an EventStore that cannot
// share this unit of work's transaction. Event append, dispatch, and the
// snapshot upsert each run as their own step; a later step's failure
// cannot roll back an earlier one's effect.
func (u *GormUnitOfWork) commitIndependently(ctx context.Context, events []domain.Event, snapshot *domain.Snapshot) ([]domain.Envelope, error) {
	envelopes, err := u.store.Save(ctx, events)
	if err != nil {
		return nil, err
	}

	if err := u.dispatcher.Dispatch(ctx, envelopes); err != nil {
		if isBestEffort(u.dispatcher) {
			if u.logger != nil {
				u.logger.Warn("best-effort dispatch failed after commit", "error", err)
			}
		} else {
			if u.logger != nil {
				u.logger.Error("dispatch failed after commit", "error", err)
			}
			return envelopes, err
		}
	}

	if snapshot != nil && u.snapshots != nil {
		if err := u.snapshots.Set(ctx, *snapshot); err != nil {
			if u.logger != nil {
				u.logger.Warn("snapshot upsert failed after commit", "aggregate_id", snapshot.AggregateID, "error", err)
			}
			return envelopes, err
		}
	}

	return envelopes, nil
}

// Rollback discards queued events and any registered snapshot without
// persisting them. Calling it after Commit has already run is a no-op
// error, not a panic, since a deferred Rollback is the idiomatic guard
// against an early return.
func (u *GormUnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return ErrAlreadyFinished
	}
	u.finished = true
	u.pending = nil
	u.snapshot = nil
	return nil
}

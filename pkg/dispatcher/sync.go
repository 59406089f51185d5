package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/nireo/usercore/pkg/domain"
)

// SyncDispatcher calls every subscribed handler in-process, inside the
// caller's own transaction. A handler error aborts Dispatch, which in
// turn aborts the unit of work's Commit and rolls back the event write —
// appropriate for the default deployment where the read model must never
// drift from the event log.
type SyncDispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.EventKind][]domain.EventHandler
}

// NewSyncDispatcher returns a ready, empty dispatcher.
func NewSyncDispatcher() *SyncDispatcher {
	return &SyncDispatcher{handlers: make(map[domain.EventKind][]domain.EventHandler)}
}

// Subscribe registers handler for eventType.
func (d *SyncDispatcher) Subscribe(eventType domain.EventKind, handler domain.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
	return nil
}

// Start is a no-op: there is no background machinery to bring up.
func (d *SyncDispatcher) Start() error { return nil }

// Dispatch invokes every handler subscribed to each envelope's event
// kind, in registration order, stopping at the first error.
func (d *SyncDispatcher) Dispatch(ctx context.Context, envelopes []domain.Envelope) error {
	for _, envelope := range envelopes {
		kind := envelope.Event().EventType()

		d.mu.RLock()
		handlers := append([]domain.EventHandler(nil), d.handlers[kind]...)
		d.mu.RUnlock()

		for _, handler := range handlers {
			if err := handler.Handle(ctx, envelope); err != nil {
				return fmt.Errorf("usercore: handler failed for event %s on aggregate %s: %w",
					kind, envelope.Event().AggregateID(), err)
			}
		}
	}
	return nil
}

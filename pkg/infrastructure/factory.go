package infrastructure

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/dispatcher"
	"github.com/nireo/usercore/pkg/eventcodec"
	"github.com/nireo/usercore/pkg/eventstore"
	"github.com/nireo/usercore/pkg/snapshotstore"
)

// Factory lazily builds and memoizes the singletons every process needs:
// one database connection, one codec registry, one event store, one
// dispatcher. cmd/worker holds one Factory built from its Config;
// subscribing handlers to the dispatcher is left to the caller.
type Factory struct {
	config *Config
	logger domain.Logger

	mu         sync.Mutex
	db         *gorm.DB
	registry   *eventcodec.Registry
	eventStore domain.EventStore
	dispatcher domain.EventDispatcher
}

// NewFactory builds a Factory around an already-loaded Config. logger may
// be nil, in which case a default text logger at info level is used.
func NewFactory(config *Config, logger domain.Logger) *Factory {
	if logger == nil {
		logger = NewLogger("info", "text")
	}
	return &Factory{config: config, logger: logger}
}

// Logger returns the factory's logger.
func (f *Factory) Logger() domain.Logger { return f.logger }

// DB returns the shared *gorm.DB connection, opening it on first use.
func (f *Factory) DB() (*gorm.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db != nil {
		return f.db, nil
	}

	db, err := NewDatabase(f.config.Database)
	if err != nil {
		return nil, domain.NewInfrastructureError("factory", "open database", err)
	}
	f.db = db
	return f.db, nil
}

// Registry returns the shared event codec registry, creating it empty on
// first use. Decoders are registered by the caller (cmd/worker calls
// internal/domain.RegisterDecoders on it).
func (f *Factory) Registry() *eventcodec.Registry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registry != nil {
		return f.registry
	}
	f.registry = eventcodec.NewRegistry(f.logger)
	return f.registry
}

// EventStore returns the shared event store for the user aggregate,
// migrating its backing table on first use.
func (f *Factory) EventStore() (domain.EventStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventStore != nil {
		return f.eventStore, nil
	}

	db, err := f.dbLocked()
	if err != nil {
		return nil, err
	}

	store, err := eventstore.NewGormEventStore(db, domain.UserAggregate, f.registryLocked(), f.logger)
	if err != nil {
		return nil, err
	}
	f.eventStore = store
	return f.eventStore, nil
}

// SnapshotStore returns a fresh GORM-backed snapshot store. Unlike the
// event store, it is not memoized: callers that want snapshots disabled
// simply never call this and pass a nil domain.SnapshotStore to their
// command handlers instead.
func (f *Factory) SnapshotStore() (domain.SnapshotStore, error) {
	db, err := f.DB()
	if err != nil {
		return nil, err
	}
	return snapshotstore.NewGormSnapshotStore(db)
}

// Dispatcher returns the shared event dispatcher, built from
// Config.Events.Publisher: "channel" for an in-process synchronous
// dispatcher, "amqp" for a durable async dispatcher over RabbitMQ.
func (f *Factory) Dispatcher() (domain.EventDispatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatcher != nil {
		return f.dispatcher, nil
	}

	watermillLogger := &WatermillLoggerAdapter{Logger: f.logger}
	registry := f.registryLocked()

	switch f.config.Events.Publisher {
	case "amqp":
		d, err := dispatcher.NewAMQPAsyncDispatcher(f.config.Async.BrokerURL, registry, watermillLogger)
		if err != nil {
			return nil, err
		}
		f.dispatcher = d
	case "channel", "":
		f.dispatcher = dispatcher.NewSyncDispatcher()
	default:
		return nil, fmt.Errorf("usercore: unknown events.publisher %q", f.config.Events.Publisher)
	}
	return f.dispatcher, nil
}

func (f *Factory) dbLocked() (*gorm.DB, error) {
	if f.db != nil {
		return f.db, nil
	}
	db, err := NewDatabase(f.config.Database)
	if err != nil {
		return nil, domain.NewInfrastructureError("factory", "open database", err)
	}
	f.db = db
	return f.db, nil
}

func (f *Factory) registryLocked() *eventcodec.Registry {
	if f.registry != nil {
		return f.registry
	}
	f.registry = eventcodec.NewRegistry(f.logger)
	return f.registry
}

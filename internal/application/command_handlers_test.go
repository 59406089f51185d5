package application

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgapp "github.com/nireo/usercore/pkg/application"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/security"
)

// memoryEventStore is an in-process, non-persistent domain.EventStore
// used to exercise command handlers without a database.
type memoryEventStore struct {
	byAggregate  map[string][]pkgdomain.Event
	forceLoadErr error
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{byAggregate: make(map[string][]pkgdomain.Event)}
}

func (s *memoryEventStore) Save(ctx context.Context, events []pkgdomain.Event) ([]pkgdomain.Envelope, error) {
	envelopes := make([]pkgdomain.Envelope, 0, len(events))
	for _, e := range events {
		s.byAggregate[e.AggregateID()] = append(s.byAggregate[e.AggregateID()], e)
		envelopes = append(envelopes, &testEnvelope{event: e})
	}
	return envelopes, nil
}

func (s *memoryEventStore) Load(ctx context.Context, aggregateID string) ([]pkgdomain.Envelope, error) {
	return s.LoadFromSequence(ctx, aggregateID, 0)
}

func (s *memoryEventStore) LoadFromSequence(ctx context.Context, aggregateID string, since int64) ([]pkgdomain.Envelope, error) {
	if s.forceLoadErr != nil {
		return nil, s.forceLoadErr
	}
	var out []pkgdomain.Envelope
	for _, e := range s.byAggregate[aggregateID] {
		if e.SequenceNo() > since {
			out = append(out, &testEnvelope{event: e})
		}
	}
	return out, nil
}

func (s *memoryEventStore) LoadUntil(ctx context.Context, aggregateID string, at time.Time) ([]pkgdomain.Envelope, error) {
	return nil, nil
}

// Search scans every stored event of the given kind for a payload whose
// fields match payloadContains, mirroring the GORM store's LIKE-based
// search closely enough to exercise the uniqueness pre-check in tests.
func (s *memoryEventStore) Search(ctx context.Context, aggregateType pkgdomain.AggregateType, kind pkgdomain.EventKind, payloadContains map[string]string, limit int) ([]pkgdomain.Envelope, error) {
	var out []pkgdomain.Envelope
	for _, events := range s.byAggregate {
		for _, e := range events {
			if e.EventType() != kind {
				continue
			}
			var fields map[string]interface{}
			if err := json.Unmarshal(e.Payload(), &fields); err != nil {
				continue
			}
			matches := true
			for field, want := range payloadContains {
				got, _ := fields[field].(string)
				if got != want {
					matches = false
					break
				}
			}
			if matches {
				out = append(out, &testEnvelope{event: e})
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

type testEnvelope struct {
	event pkgdomain.Event
}

func (e *testEnvelope) Event() pkgdomain.Event           { return e.event }
func (e *testEnvelope) Metadata() map[string]interface{} { return nil }
func (e *testEnvelope) EventID() string                  { return "evt" }
func (e *testEnvelope) Timestamp() time.Time              { return time.Now().UTC() }

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, envelopes []pkgdomain.Envelope) error { return nil }
func (noopDispatcher) Subscribe(kind pkgdomain.EventKind, h pkgdomain.EventHandler) error  { return nil }
func (noopDispatcher) Start() error                                                       { return nil }

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

func (testLogger) Debugf(string, ...interface{}) {}
func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}
func (testLogger) Fatalf(string, ...interface{}) {}

func newTestDeps(store *memoryEventStore) CommandDeps {
	dispatcher := noopDispatcher{}
	return CommandDeps{
		EventStore: store,
		Logger:     testLogger{},
		NewUnitOfWork: func() pkgdomain.UnitOfWork {
			return &inlineUnitOfWork{store: store, dispatcher: dispatcher}
		},
	}
}

// inlineUnitOfWork commits directly against the shared memoryEventStore,
// standing in for pkg/unitofwork.GormUnitOfWork in tests that don't need a
// real database transaction.
type inlineUnitOfWork struct {
	store      pkgdomain.EventStore
	dispatcher pkgdomain.EventDispatcher
	pending    []pkgdomain.Event
}

func (u *inlineUnitOfWork) RegisterEvents(events []pkgdomain.Event) {
	u.pending = append(u.pending, events...)
}

func (u *inlineUnitOfWork) Commit(ctx context.Context) ([]pkgdomain.Envelope, error) {
	envelopes, err := u.store.Save(ctx, u.pending)
	if err != nil {
		return nil, err
	}
	return envelopes, u.dispatcher.Dispatch(ctx, envelopes)
}

func (u *inlineUnitOfWork) Rollback() error {
	u.pending = nil
	return nil
}

func TestCreateUserHandler_Succeeds(t *testing.T) {
	store := newMemoryEventStore()
	deps := newTestDeps(store)
	handler := NewCreateUserHandler(deps)

	cmd := CreateUserCommand{
		AggregateID:  "agg-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
	}
	resp, err := handler(context.Background(), testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: cmd})
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.Len(t, store.byAggregate["agg-1"], 1)
}

func TestCreateUserHandler_RejectsDuplicateUsername(t *testing.T) {
	store := newMemoryEventStore()
	deps := newTestDeps(store)
	handler := NewCreateUserHandler(deps)
	ctx := context.Background()

	cmd := CreateUserCommand{AggregateID: "agg-1", Username: "alice", Email: "alice@example.com", PasswordHash: "hash"}
	_, err := handler(ctx, testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: cmd})
	require.NoError(t, err)

	dup := CreateUserCommand{AggregateID: "agg-2", Username: "alice", Email: "other@example.com", PasswordHash: "hash"}
	_, err = handler(ctx, testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: dup})
	require.Error(t, err)

	var conflict pkgdomain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestUpdateUserHandler_AppendsSecondEvent(t *testing.T) {
	store := newMemoryEventStore()
	deps := newTestDeps(store)
	ctx := context.Background()

	create := CreateUserCommand{AggregateID: "agg-1", Username: "alice", Email: "alice@example.com", PasswordHash: "hash"}
	_, err := NewCreateUserHandler(deps)(ctx, testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: create})
	require.NoError(t, err)

	newFirst := "Alicia"
	update := UpdateUserCommand{AggregateID: "agg-1", FirstName: &newFirst}
	_, err = NewUpdateUserHandler(deps)(ctx, testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: update})
	require.NoError(t, err)

	assert.Len(t, store.byAggregate["agg-1"], 2)
}

func TestDeleteUserHandler_OnMissingAggregateFails(t *testing.T) {
	store := newMemoryEventStore()
	deps := newTestDeps(store)

	cmd := DeleteUserCommand{AggregateID: "never-created"}
	_, err := NewDeleteUserHandler(deps)(context.Background(), testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: cmd})
	require.Error(t, err)

	var notFound pkgdomain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUpdateUserHandler_SanitizesInfrastructureErrorWhenSecurityConfigured(t *testing.T) {
	store := newMemoryEventStore()
	store.forceLoadErr = fmt.Errorf("dial tcp: password=hunter2 connection refused")
	deps := newTestDeps(store)
	deps.Security = security.NewSecurityErrorHandler(testLogger{})

	newFirst := "Alicia"
	cmd := UpdateUserCommand{AggregateID: "agg-1", FirstName: &newFirst}
	_, err := NewUpdateUserHandler(deps)(context.Background(), testLogger{}, pkgapp.Payload[pkgapp.Command]{Data: cmd})
	require.Error(t, err)

	var infra pkgdomain.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.NotContains(t, infra.Error(), "hunter2")
}

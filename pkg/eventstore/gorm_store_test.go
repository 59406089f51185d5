package eventstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/eventcodec"
)

type fakeEvent struct {
	id          string
	aggregateID string
	revision    int64
	kind        domain.EventKind
	payload     []byte
}

func (e *fakeEvent) EventID() string                     { return e.id }
func (e *fakeEvent) EventType() domain.EventKind         { return e.kind }
func (e *fakeEvent) EventVersion() string                { return "v1" }
func (e *fakeEvent) AggregateID() string                 { return e.aggregateID }
func (e *fakeEvent) AggregateType() domain.AggregateType { return domain.UserAggregate }
func (e *fakeEvent) SequenceNo() int64                   { return e.revision }
func (e *fakeEvent) CreatedAt() time.Time                { return time.Now().UTC() }
func (e *fakeEvent) Payload() []byte                     { return e.payload }
func (e *fakeEvent) SetSequenceNo(n int64)               { e.revision = n }

func newTestStore(t *testing.T) *GormEventStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	registry := eventcodec.NewRegistry(nil)
	registry.Register(domain.UserCreated, "v1", func(payload json.RawMessage, eventID, aggregateID string, revision int64, createdAt time.Time) (domain.Event, error) {
		return &fakeEvent{id: eventID, aggregateID: aggregateID, revision: revision, kind: domain.UserCreated, payload: payload}, nil
	})

	store, err := NewGormEventStore(db, domain.UserAggregate, registry, nil)
	require.NoError(t, err)
	return store
}

func TestSave_AssignsEnvelopeMetadata(t *testing.T) {
	store := newTestStore(t)
	event := &fakeEvent{id: "evt-1", aggregateID: "agg-1", revision: 1, kind: domain.UserCreated, payload: []byte(`{"username":"alice"}`)}

	envelopes, err := store.Save(context.Background(), []domain.Event{event})
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, "evt-1", envelopes[0].EventID())
}

func TestSave_DuplicateRevisionDifferentIDReturnsConcurrencyConflict(t *testing.T) {
	store := newTestStore(t)
	first := &fakeEvent{id: "evt-2a", aggregateID: "agg-1", revision: 1, kind: domain.UserCreated, payload: []byte(`{}`)}
	_, err := store.Save(context.Background(), []domain.Event{first})
	require.NoError(t, err)

	second := &fakeEvent{id: "evt-2b", aggregateID: "agg-1", revision: 1, kind: domain.UserCreated, payload: []byte(`{}`)}
	_, err = store.Save(context.Background(), []domain.Event{second})
	require.Error(t, err)

	var conflict domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestSave_RetryWithSameIDIsANoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	event := &fakeEvent{id: "evt-3", aggregateID: "agg-9", revision: 1, kind: domain.UserCreated, payload: []byte(`{"username":"carol"}`)}

	first, err := store.Save(ctx, []domain.Event{event})
	require.NoError(t, err)
	require.Len(t, first, 1)

	retry := &fakeEvent{id: "evt-3", aggregateID: "agg-9", revision: 1, kind: domain.UserCreated, payload: []byte(`{"username":"carol"}`)}
	second, err := store.Save(ctx, []domain.Event{retry})
	require.NoError(t, err, "retrying a Save with the same event id must be a silent no-op, not a conflict")
	require.Len(t, second, 1)
	assert.Equal(t, "evt-3", second[0].EventID())

	envelopes, err := store.Load(ctx, "agg-9")
	require.NoError(t, err)
	assert.Len(t, envelopes, 1, "a retried Save must not insert a second row for the same event id")
}

func TestLoadFromSequence_ReturnsOnlyEventsAboveWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		event := &fakeEvent{id: "evt-seq-" + string(rune('0'+i)), aggregateID: "agg-1", revision: i, kind: domain.UserCreated, payload: []byte(`{}`)}
		_, err := store.Save(ctx, []domain.Event{event})
		require.NoError(t, err)
	}

	envelopes, err := store.LoadFromSequence(ctx, "agg-1", 1)
	require.NoError(t, err)
	require.Len(t, envelopes, 2)
	assert.Equal(t, int64(2), envelopes[0].Event().SequenceNo())
	assert.Equal(t, int64(3), envelopes[1].Event().SequenceNo())
}

func TestLoad_ReturnsFullHistoryInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		event := &fakeEvent{id: "evt-hist-" + string(rune('0'+i)), aggregateID: "agg-2", revision: i, kind: domain.UserCreated, payload: []byte(`{}`)}
		_, err := store.Save(ctx, []domain.Event{event})
		require.NoError(t, err)
	}

	envelopes, err := store.Load(ctx, "agg-2")
	require.NoError(t, err)
	require.Len(t, envelopes, 2)
	assert.Equal(t, int64(1), envelopes[0].Event().SequenceNo())
}

func TestSearch_FindsByPayloadField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	event := &fakeEvent{id: "evt-search-1", aggregateID: "agg-3", revision: 1, kind: domain.UserCreated, payload: []byte(`{"username":"bob"}`)}
	_, err := store.Save(ctx, []domain.Event{event})
	require.NoError(t, err)

	envelopes, err := store.Search(ctx, domain.UserAggregate, domain.UserCreated, map[string]string{"username": "bob"}, 1)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)

	none, err := store.Search(ctx, domain.UserAggregate, domain.UserCreated, map[string]string{"username": "nobody"}, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

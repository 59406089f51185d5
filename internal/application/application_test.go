package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBus_RoutesCreateUserByCommandType(t *testing.T) {
	store := newMemoryEventStore()
	bus := NewCommandBus(newTestDeps(store))

	err := bus.Handle(context.Background(), testLogger{}, CreateUserCommand{
		AggregateID: "agg-1", Username: "alice", Email: "alice@example.com", PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Len(t, store.byAggregate["agg-1"], 1)
}

func TestCommandBus_UnregisteredCommandTypeErrors(t *testing.T) {
	store := newMemoryEventStore()
	bus := NewCommandBus(newTestDeps(store))

	err := bus.Handle(context.Background(), testLogger{}, unknownCommand{})
	assert.Error(t, err)
}

type unknownCommand struct{}

func (unknownCommand) CommandType() string { return "NotRegistered" }

func TestQueryBus_RoutesGetUserByQueryType(t *testing.T) {
	readModel := newMemoryReadModel()
	require.NoError(t, readModel.Upsert(context.Background(), ReadModelRow{
		AggregateID: "agg-1", Username: "alice", Email: "alice@example.com",
	}))

	bus := NewQueryBus(QueryDeps{ReadModel: readModel, Logger: testLogger{}})

	result, err := bus.Handle(context.Background(), testLogger{}, GetUserQuery{AggregateID: "agg-1"})
	require.NoError(t, err)
	view, ok := result.(UserView)
	require.True(t, ok)
	assert.Equal(t, "alice", view.Username)
}

func TestCommandBus_RejectsCommandFailingValidation(t *testing.T) {
	store := newMemoryEventStore()
	bus := NewCommandBus(newTestDeps(store))

	err := bus.Handle(context.Background(), testLogger{}, CreateUserCommand{
		AggregateID: "agg-1", Username: "al", Email: "alice@example.com", PasswordHash: "hash",
	})
	assert.Error(t, err)
	assert.Empty(t, store.byAggregate["agg-1"])
}

func TestQueryBus_GetUserNotFoundPropagatesError(t *testing.T) {
	readModel := newMemoryReadModel()
	bus := NewQueryBus(QueryDeps{ReadModel: readModel, Logger: testLogger{}})

	_, err := bus.Handle(context.Background(), testLogger{}, GetUserQuery{AggregateID: "missing"})
	assert.Error(t, err)
}

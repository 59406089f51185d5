package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	internaldomain "github.com/nireo/usercore/internal/domain"
	internalinfra "github.com/nireo/usercore/internal/infrastructure"
	pkgapp "github.com/nireo/usercore/pkg/application"
	pkgdomain "github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/dispatcher"
	"github.com/nireo/usercore/pkg/eventcodec"
	"github.com/nireo/usercore/pkg/eventstore"
	"github.com/nireo/usercore/pkg/security"
)

// lifecycleContext wires the real GORM-backed stores, a sync dispatcher
// with the read-model projector subscribed, and the command/query buses,
// mirroring a single-process deployment end to end against an in-memory
// sqlite database.
type lifecycleContext struct {
	db          *gorm.DB
	eventStore  pkgdomain.EventStore
	readModel   *internalinfra.GormReadModelRepository
	checkpoints *internalinfra.GormCheckpointRepository

	commandBus pkgapp.CommandBus
	queryBus   pkgapp.QueryBus

	times   map[string]time.Time
	lastErr error
	aggIDs  map[string]string
}

func newLifecycleContext(t *testing.T) *lifecycleContext {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	registry := eventcodec.NewRegistry(testLogger{})
	internaldomain.RegisterDecoders(registry)

	store, err := eventstore.NewGormEventStore(db, pkgdomain.UserAggregate, registry, testLogger{})
	if err != nil {
		t.Fatalf("build event store: %v", err)
	}

	readModel, err := internalinfra.NewGormReadModelRepository(db)
	if err != nil {
		t.Fatalf("build read model: %v", err)
	}
	checkpoints, err := internalinfra.NewGormCheckpointRepository(db)
	if err != nil {
		t.Fatalf("build checkpoints: %v", err)
	}

	syncDispatcher := dispatcher.NewSyncDispatcher()
	projector := NewUserProjector(readModel, checkpoints, nil, testLogger{})
	for _, kind := range projector.EventTypes() {
		if err := syncDispatcher.Subscribe(kind, projector); err != nil {
			t.Fatalf("subscribe projector: %v", err)
		}
	}

	securityHandler := security.NewSecurityErrorHandler(testLogger{})

	commandDeps := CommandDeps{
		EventStore: store,
		Logger:     testLogger{},
		NewUnitOfWork: func() pkgdomain.UnitOfWork {
			return &inlineUnitOfWork{store: store, dispatcher: syncDispatcher}
		},
		Security: securityHandler,
	}
	queryDeps := QueryDeps{ReadModel: readModel, EventStore: store, Logger: testLogger{}, Security: securityHandler}

	return &lifecycleContext{
		db:          db,
		eventStore:  store,
		readModel:   readModel,
		checkpoints: checkpoints,
		commandBus:  NewCommandBus(commandDeps),
		queryBus:    NewQueryBus(queryDeps),
		times:       make(map[string]time.Time),
		aggIDs:      make(map[string]string),
	}
}

func (c *lifecycleContext) aggregateID(username string) string {
	id, ok := c.aggIDs[username]
	if !ok {
		id = "agg-" + username
		c.aggIDs[username] = id
	}
	return id
}

func (c *lifecycleContext) iCreateAUserWithEmail(username, email string) error {
	c.lastErr = c.commandBus.Handle(context.Background(), testLogger{}, CreateUserCommand{
		AggregateID: c.aggregateID(username), Username: username, Email: email, PasswordHash: "hash", HashingMethod: "bcrypt", Role: "user",
	})
	return nil
}

func (c *lifecycleContext) theUserShouldExistWithEmail(username, email string) error {
	result, err := c.queryBus.Handle(context.Background(), testLogger{}, GetUserQuery{AggregateID: c.aggregateID(username)})
	if err != nil {
		return fmt.Errorf("get user %q: %w", username, err)
	}
	view, ok := result.(UserView)
	if !ok || view.Email != email {
		return fmt.Errorf("expected email %q, got %+v", email, result)
	}
	return nil
}

func (c *lifecycleContext) theEventStoreShouldHaveEventsForOfKind(count int, username string, kind string) error {
	envelopes, err := c.eventStore.Load(context.Background(), c.aggregateID(username))
	if err != nil {
		return err
	}
	matching := 0
	for _, e := range envelopes {
		if string(e.Event().EventType()) == kind {
			matching++
		}
	}
	if matching != count {
		return fmt.Errorf("expected %d events of kind %q, got %d", count, kind, matching)
	}
	return nil
}

func (c *lifecycleContext) aUserCreatedAtTimeWithEmailAndFirstName(username, tKey, email, firstName string) error {
	if err := c.iCreateAUserWithEmail(username, email); err != nil {
		return err
	}
	if c.lastErr != nil {
		return c.lastErr
	}
	newFirst := firstName
	if err := c.commandBus.Handle(context.Background(), testLogger{}, UpdateUserCommand{AggregateID: c.aggregateID(username), FirstName: &newFirst}); err != nil {
		return err
	}
	c.times[tKey] = time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	return nil
}

func (c *lifecycleContext) aUserCreatedWithEmail(username, email string) error {
	if err := c.iCreateAUserWithEmail(username, email); err != nil {
		return err
	}
	return c.lastErr
}

func (c *lifecycleContext) atTimeIUpdateFirstNameTo(tKey, username, firstName string) error {
	newFirst := firstName
	err := c.commandBus.Handle(context.Background(), testLogger{}, UpdateUserCommand{AggregateID: c.aggregateID(username), FirstName: &newFirst})
	c.times[tKey] = time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	return err
}

func (c *lifecycleContext) replayingAtTimeShouldShowFirstName(username, tKey, firstName string) error {
	at, ok := c.times[tKey]
	if !ok {
		return fmt.Errorf("no recorded time %q", tKey)
	}
	result, err := c.queryBus.Handle(context.Background(), testLogger{}, GetUserAtTimeQuery{AggregateID: c.aggregateID(username), Timestamp: at})
	if err != nil {
		return err
	}
	view := result.(UserView)
	if view.FirstName != firstName {
		return fmt.Errorf("expected first name %q at %s, got %q", firstName, tKey, view.FirstName)
	}
	return nil
}

func (c *lifecycleContext) replayingBeforeCreationShouldFailWithNotFound(username string) error {
	_, err := c.queryBus.Handle(context.Background(), testLogger{}, GetUserAtTimeQuery{AggregateID: c.aggregateID(username), Timestamp: time.Unix(0, 0).UTC()})
	var notFound pkgdomain.NotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("expected NotFoundError, got %v", err)
	}
	return nil
}

func (c *lifecycleContext) theCreateShouldFailWithAConflict() error {
	var conflict pkgdomain.ConflictError
	if !errors.As(c.lastErr, &conflict) {
		return fmt.Errorf("expected ConflictError, got %v", c.lastErr)
	}
	return nil
}

func (c *lifecycleContext) iDeleteTheUser(username string) error {
	return c.commandBus.Handle(context.Background(), testLogger{}, DeleteUserCommand{AggregateID: c.aggregateID(username)})
}

func (c *lifecycleContext) listingUsersShouldReturnResults(count int) error {
	result, err := c.queryBus.Handle(context.Background(), testLogger{}, ListUsersQuery{Page: 1, PageSize: 10})
	if err != nil {
		return err
	}
	list := result.(ListUsersResult)
	if len(list.Results) != count {
		return fmt.Errorf("expected %d results, got %d", count, len(list.Results))
	}
	return nil
}

func (c *lifecycleContext) theUserShouldNotExist(username string) error {
	_, err := c.queryBus.Handle(context.Background(), testLogger{}, GetUserQuery{AggregateID: c.aggregateID(username)})
	var notFound pkgdomain.NotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("expected NotFoundError, got %v", err)
	}
	return nil
}

func (c *lifecycleContext) aUserCreatedAtTimeWithEmailAndPasswordHash(username, tKey, email, hash string) error {
	if err := c.iCreateAUserWithEmail(username, email); err != nil {
		return err
	}
	if c.lastErr != nil {
		return c.lastErr
	}
	if err := c.commandBus.Handle(context.Background(), testLogger{}, ChangePasswordCommand{AggregateID: c.aggregateID(username), NewHash: hash, HashingMethod: "bcrypt"}); err != nil {
		return err
	}
	c.times[tKey] = time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	return nil
}

func (c *lifecycleContext) atTimeIChangePasswordHashTo(tKey, username, hash string) error {
	err := c.commandBus.Handle(context.Background(), testLogger{}, ChangePasswordCommand{AggregateID: c.aggregateID(username), NewHash: hash, HashingMethod: "bcrypt"})
	c.times[tKey] = time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	return err
}

// UserView doesn't carry the password hash (it isn't part of the public
// projection), so the point-in-time assertion replays the aggregate
// straight from the event store instead of going through the query bus.
func (c *lifecycleContext) replayingAtTimeShouldShowPasswordHash(username, tKey, hash string) error {
	at, ok := c.times[tKey]
	if !ok {
		return fmt.Errorf("no recorded time %q", tKey)
	}
	envelopes, err := c.eventStore.LoadUntil(context.Background(), c.aggregateID(username), at)
	if err != nil {
		return err
	}
	events := make([]pkgdomain.Event, 0, len(envelopes))
	for _, e := range envelopes {
		events = append(events, e.Event())
	}
	replayed := internaldomain.NewUser(c.aggregateID(username))
	replayed.LoadFromHistory(events)
	if replayed.PasswordHash != hash {
		return fmt.Errorf("expected password hash %q at %s, got %q", hash, tKey, replayed.PasswordHash)
	}
	return nil
}

func (c *lifecycleContext) theUserShouldHavePasswordHashInTheReadModel(username, hash string) error {
	row, err := c.readModel.GetByID(context.Background(), c.aggregateID(username))
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("user %q not found in read model", username)
	}
	if row.PasswordHash != hash {
		return fmt.Errorf("expected read model password hash %q, got %q", hash, row.PasswordHash)
	}
	return nil
}

func TestUserLifecycle(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			c := newLifecycleContext(t)

			sc.When(`^I create a user "([^"]*)" with email "([^"]*)"$`, c.iCreateAUserWithEmail)
			sc.Then(`^the user "([^"]*)" should exist with email "([^"]*)"$`, c.theUserShouldExistWithEmail)
			sc.Then(`^the event store should have exactly (\d+) event for "([^"]*)" of kind "([^"]*)"$`, c.theEventStoreShouldHaveEventsForOfKind)

			sc.Given(`^a user "([^"]*)" created at time "([^"]*)" with email "([^"]*)" and first name "([^"]*)"$`, c.aUserCreatedAtTimeWithEmailAndFirstName)
			sc.Given(`^a user "([^"]*)" created with email "([^"]*)"$`, c.aUserCreatedWithEmail)
			sc.When(`^at time "([^"]*)" I update "([^"]*)"'s first name to "([^"]*)"$`, func(tKey, username, firstName string) error {
				return c.atTimeIUpdateFirstNameTo(tKey, username, firstName)
			})
			sc.Then(`^replaying "([^"]*)" at time "([^"]*)" should show first name "([^"]*)"$`, c.replayingAtTimeShouldShowFirstName)
			sc.Then(`^replaying "([^"]*)" before creation should fail with not found$`, c.replayingBeforeCreationShouldFailWithNotFound)

			sc.Then(`^the create should fail with a conflict$`, c.theCreateShouldFailWithAConflict)

			sc.When(`^I delete the user "([^"]*)"$`, c.iDeleteTheUser)
			sc.Then(`^listing users should return (\d+) results$`, c.listingUsersShouldReturnResults)
			sc.Then(`^the user "([^"]*)" should not exist$`, c.theUserShouldNotExist)

			sc.Given(`^a user "([^"]*)" created at time "([^"]*)" with email "([^"]*)" and password hash "([^"]*)"$`, c.aUserCreatedAtTimeWithEmailAndPasswordHash)
			sc.When(`^at time "([^"]*)" I change "([^"]*)"'s password hash to "([^"]*)"$`, func(tKey, username, hash string) error {
				return c.atTimeIChangePasswordHashTo(tKey, username, hash)
			})
			sc.Then(`^replaying "([^"]*)" at time "([^"]*)" should show password hash "([^"]*)"$`, c.replayingAtTimeShouldShowPasswordHash)
			sc.Then(`^the user "([^"]*)" should have password hash "([^"]*)" in the read model$`, c.theUserShouldHavePasswordHashInTheReadModel)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/user_lifecycle.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run user lifecycle feature tests")
	}
}

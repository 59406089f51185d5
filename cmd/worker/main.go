// Command worker runs the projection worker process: it subscribes to
// every user event topic on the configured broker and folds incoming
// events into the read model, independently of whatever process appended
// them to the event store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nireo/usercore/internal/application"
	internaldomain "github.com/nireo/usercore/internal/domain"
	internalinfra "github.com/nireo/usercore/internal/infrastructure"
	"github.com/nireo/usercore/pkg/infrastructure"
)

func main() {
	cfg, err := infrastructure.LoadConfig()
	if err != nil {
		panic(err)
	}

	factory := infrastructure.NewFactory(cfg, infrastructure.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	logger := factory.Logger()

	if cfg.Events.Publisher != "amqp" {
		logger.Fatal("worker requires events.publisher=amqp; the sync publisher dispatches in-process and has no worker to run")
	}

	internaldomain.RegisterDecoders(factory.Registry())

	db, err := factory.DB()
	if err != nil {
		logger.Fatal("open database", "error", err)
	}

	readModel, err := internalinfra.NewGormReadModelRepository(db)
	if err != nil {
		logger.Fatal("build read model repository", "error", err)
	}
	checkpoints, err := internalinfra.NewGormCheckpointRepository(db)
	if err != nil {
		logger.Fatal("build checkpoint repository", "error", err)
	}

	projector := application.NewUserProjector(readModel, checkpoints, application.NewNoopEmailProvider(logger), logger)

	dispatcher, err := factory.Dispatcher()
	if err != nil {
		logger.Fatal("build dispatcher", "error", err)
	}

	for _, kind := range projector.EventTypes() {
		if err := dispatcher.Subscribe(kind, projector); err != nil {
			logger.Fatal("subscribe projection handler", "kind", kind, "error", err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		logger.Fatal("start dispatcher", "error", err)
	}

	logger.Info("worker started", "broker_url", cfg.Async.BrokerURL, "queue_name", cfg.Async.QueueName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("worker shutting down")
	if closer, ok := dispatcher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("dispatcher close failed", "error", err)
		}
	}
}

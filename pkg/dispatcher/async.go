package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/nireo/usercore/pkg/domain"
	"github.com/nireo/usercore/pkg/eventcodec"
)

// AsyncDispatcher hands envelopes to a durable message broker and returns
// as soon as publish succeeds — it does not wait for a projection to run.
// A separate worker process (see cmd/worker) consumes the same topics and
// invokes the handlers registered here via Subscribe, so Dispatch.
// Subscribe must be called identically in both the writer and the worker
// process for routing to agree.
type AsyncDispatcher struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	registry   *eventcodec.Registry

	mu       sync.Mutex
	handlers map[domain.EventKind][]domain.EventHandler
	started  bool
}

// NewGoChannelAsyncDispatcher wires an async dispatcher over an in-memory
// gochannel pub/sub, used for local development and tests where a real
// broker would be overkill. logger may be nil.
func NewGoChannelAsyncDispatcher(registry *eventcodec.Registry, logger watermill.LoggerAdapter) (*AsyncDispatcher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("usercore: create router: %w", err)
	}
	return &AsyncDispatcher{
		publisher:  pubSub,
		subscriber: pubSub,
		router:     router,
		registry:   registry,
		handlers:   make(map[domain.EventKind][]domain.EventHandler),
	}, nil
}

// NewAMQPAsyncDispatcher wires an async dispatcher over a durable AMQP
// broker (RabbitMQ), the production deployment for the async publisher.
// logger may be nil.
func NewAMQPAsyncDispatcher(amqpURI string, registry *eventcodec.Registry, logger watermill.LoggerAdapter) (*AsyncDispatcher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	config := amqp.NewDurablePubSubConfig(amqpURI, amqp.GenerateQueueNameTopicName)

	publisher, err := amqp.NewPublisher(config, logger)
	if err != nil {
		return nil, fmt.Errorf("usercore: create amqp publisher: %w", err)
	}

	subscriber, err := amqp.NewSubscriber(config, logger)
	if err != nil {
		return nil, fmt.Errorf("usercore: create amqp subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("usercore: create router: %w", err)
	}

	return &AsyncDispatcher{
		publisher:  publisher,
		subscriber: subscriber,
		router:     router,
		registry:   registry,
		handlers:   make(map[domain.EventKind][]domain.EventHandler),
	}, nil
}

// Subscribe registers handler for eventType and wires a router route for
// its topic. Must be called before Start.
func (d *AsyncDispatcher) Subscribe(eventType domain.EventKind, handler domain.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("usercore: cannot subscribe after Start")
	}

	d.handlers[eventType] = append(d.handlers[eventType], handler)

	topic := topicForKind(eventType)
	handlerName := fmt.Sprintf("%s_worker_%d", topic, len(d.handlers[eventType]))
	d.router.AddNoPublisherHandler(handlerName, topic, d.subscriber, func(msg *message.Message) error {
		envelope, err := decodeEnvelope(msg, d.registry)
		if err != nil {
			return err
		}
		return handler.Handle(context.Background(), envelope)
	})

	return nil
}

// Start brings up the router that drives subscribed handlers. It must be
// called once by the worker process before messages start flowing; a
// writer process that only publishes never needs to call it.
func (d *AsyncDispatcher) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	go func() {
		_ = d.router.Run(context.Background())
	}()
	return nil
}

// Dispatch publishes each envelope to its event kind's topic and returns.
// It does not wait for, or know the outcome of, the eventual handler
// invocation in the worker process.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, envelopes []domain.Envelope) error {
	for _, envelope := range envelopes {
		msg, err := encodeEnvelope(envelope)
		if err != nil {
			return err
		}
		msg.SetContext(ctx)

		topic := topicForKind(envelope.Event().EventType())
		if err := d.publisher.Publish(topic, msg); err != nil {
			return fmt.Errorf("usercore: publish event %s to broker: %w", envelope.EventID(), err)
		}
	}
	return nil
}

// BestEffort reports that a Dispatch failure here (the broker being
// unreachable, say) must not unwind an otherwise successful commit: the
// events are durably written regardless, and delivery to the worker
// process can be retried independently of the write path.
func (d *AsyncDispatcher) BestEffort() bool { return true }

// Close shuts down the router and the underlying pub/sub.
func (d *AsyncDispatcher) Close() error {
	if err := d.router.Close(); err != nil {
		return err
	}
	if closer, ok := d.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

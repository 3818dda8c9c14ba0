package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rickgao/stream-supervisor/internal/broker"
	"github.com/rickgao/stream-supervisor/internal/supervisor"
)

// ErrAlreadyConsuming is returned by StartConsuming on a running Subscriber.
var ErrAlreadyConsuming = errors.New("already consuming")

// Handler processes one decoded delivery.
type Handler func(ctx context.Context, consumerID string, env Envelope) error

// Beater records consumer liveness.
type Beater interface {
	Beat(consumerID string)
}

// Metrics records delivery outcomes.
type Metrics interface {
	Delivery(consumer, result string)
}

// Delivery results.
const (
	ResultAck     = "ack"
	ResultRequeue = "requeue"
	ResultDiscard = "discard"
)

var _ supervisor.StreamSubscriber = (*Subscriber)(nil)

// Subscriber consumes one queue for one consumer.
type Subscriber struct {
	consumerID string
	prefetch   int
	handler    Handler
	echo       Beater
	metrics    Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	ch      broker.Channel
	tag     string
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSubscriber creates an idle Subscriber.
func NewSubscriber(consumerID string, prefetch int, handler Handler, echo Beater, metrics Metrics, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		consumerID: consumerID,
		prefetch:   prefetch,
		handler:    handler,
		echo:       echo,
		metrics:    metrics,
		logger:     logger.With("component", "stream", "consumer", consumerID),
	}
}

// StartConsuming registers a consumer on ch for queue and starts delivery.
func (s *Subscriber) StartConsuming(ch broker.Channel, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyConsuming
	}

	if s.prefetch > 0 {
		if err := ch.Qos(s.prefetch); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	tag := fmt.Sprintf("%s-%s", s.consumerID, uuid.NewString())
	deliveries, err := ch.Consume(queue, tag)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ch = ch
	s.tag = tag
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.deliver(ctx, deliveries, s.done)

	s.logger.Info("consuming", "queue", queue, "tag", tag, "prefetch", s.prefetch)
	return nil
}

// StopConsuming cancels the consumer and waits for in-flight handling to end.
// Calling it on an idle Subscriber is a no-op.
func (s *Subscriber) StopConsuming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var err error
	if !s.ch.IsClosed() {
		if cerr := s.ch.Cancel(s.tag); cerr != nil && !errors.Is(cerr, broker.ErrUnknownConsumer) {
			err = fmt.Errorf("cancel %s: %w", s.tag, cerr)
		}
	}
	s.cancel()
	<-s.done

	s.logger.Info("stopped consuming", "tag", s.tag)
	s.ch = nil
	return err
}

// Running reports whether the Subscriber has an active consumer.
func (s *Subscriber) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Subscriber) deliver(ctx context.Context, deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				s.logger.Warn("delivery stream closed")
				return
			}
			s.handle(ctx, d)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, d amqp.Delivery) {
	if s.echo != nil {
		s.echo.Beat(s.consumerID)
	}

	env, err := Decode(d.Body)
	if err != nil {
		s.logger.Warn("discarding delivery", "delivery_tag", d.DeliveryTag, "error", err)
		s.settle(d.Nack(false, false), ResultDiscard)
		return
	}

	if err := s.handler(ctx, s.consumerID, env); err != nil {
		s.logger.Warn("handler failed, requeueing", "type", env.Type, "delivery_tag", d.DeliveryTag, "error", err)
		s.settle(d.Nack(false, true), ResultRequeue)
		return
	}
	s.settle(d.Ack(false), ResultAck)
}

func (s *Subscriber) settle(err error, result string) {
	if err != nil {
		s.logger.Warn("acknowledgement failed", "result", result, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.Delivery(s.consumerID, result)
	}
}

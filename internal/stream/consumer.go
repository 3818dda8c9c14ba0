package stream

import (
	"log/slog"

	"github.com/rickgao/stream-supervisor/internal/broker"
	"github.com/rickgao/stream-supervisor/internal/config"
	"github.com/rickgao/stream-supervisor/internal/supervisor"
)

var _ supervisor.Consumer = (*Consumer)(nil)

// Consumer is a consumer declared in configuration.
type Consumer struct {
	cfg config.ConsumerConfig
}

// NewConsumer wraps a configured consumer.
func NewConsumer(cfg config.ConsumerConfig) *Consumer {
	return &Consumer{cfg: cfg}
}

func (c *Consumer) ID() string { return c.cfg.ID }

// QueueDetails returns the configured broker coordinates.
func (c *Consumer) QueueDetails() (broker.QueueDetails, error) {
	d := broker.QueueDetails{
		Name:        c.cfg.Queue,
		Host:        c.cfg.Host,
		Port:        c.cfg.Port,
		User:        c.cfg.User,
		Password:    c.cfg.Password,
		VirtualHost: c.cfg.VHost,
	}
	if err := d.Validate(); err != nil {
		return broker.QueueDetails{}, err
	}
	return d, nil
}

// Prefetch returns the per-consumer prefetch count.
func (c *Consumer) Prefetch() int { return c.cfg.Prefetch }

// Factory builds a Subscriber for each admitted consumer. Consumers exposing
// Prefetch() int get their own prefetch; others use defaultPrefetch.
func Factory(defaultPrefetch int, handler Handler, echo Beater, metrics Metrics, logger *slog.Logger) supervisor.SubscriberFactory {
	return func(c supervisor.Consumer) supervisor.StreamSubscriber {
		prefetch := defaultPrefetch
		if p, ok := c.(interface{ Prefetch() int }); ok && p.Prefetch() > 0 {
			prefetch = p.Prefetch()
		}
		return NewSubscriber(c.ID(), prefetch, handler, echo, metrics, logger)
	}
}

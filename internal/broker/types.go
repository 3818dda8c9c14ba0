package broker

import (
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueDetails are the connection coordinates a consumer supplies for its queue.
type QueueDetails struct {
	Name        string
	Host        string
	Port        int
	User        string
	Password    string
	VirtualHost string
}

// Validate checks the fields needed to open a connection. The queue name is not
// required here; it only matters when a subscription starts.
func (d QueueDetails) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidQueueDetails)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidQueueDetails, d.Port)
	}
	if d.User == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidQueueDetails)
	}
	return nil
}

// ShutdownListener is invoked on a broker goroutine whenever the broker closes
// the connection identified by id. It must not block.
type ShutdownListener func(id uuid.UUID, err error)

// Connection is the single physical connection to the broker.
type Connection interface {
	// ID is stable for the life of this handle, including across auto-recovery.
	ID() uuid.UUID

	// IsClosed reports whether the connection is currently unusable.
	IsClosed() bool

	// Channel opens a new channel on the connection.
	Channel() (Channel, error)

	// NotifyShutdown registers a listener for broker-initiated closes.
	NotifyShutdown(l ShutdownListener)

	// Close closes the connection and every channel opened on it.
	Close() error
}

// Channel is a logical session over a Connection.
type Channel interface {
	// IsClosed reports whether the channel can no longer be used.
	IsClosed() bool

	// Qos sets the prefetch count for consumers on this channel.
	Qos(prefetch int) error

	// Consume starts delivering messages from queue under consumerTag.
	// Deliveries must be acknowledged by the caller.
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)

	// Cancel stops the consumer registered under consumerTag and closes its
	// delivery channel.
	Cancel(consumerTag string) error

	// Close closes the channel.
	Close() error
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(p Params) (Connection, error)
}

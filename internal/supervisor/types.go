package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/stream-supervisor/internal/broker"
)

// Mode is the supervisor's view of the connection lifecycle.
type Mode int32

const (
	// ModeDisconnected: no usable connection; the next admission request starts establishment.
	ModeDisconnected Mode = iota
	// ModeConnecting: a connection is held but the Connected transition has not been applied yet.
	ModeConnecting
	// ModeValidating: the broker reported a loss and auto-recovery is being given time to work.
	ModeValidating
	// ModeConnected: admission and removal run immediately.
	ModeConnected
)

func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeConnecting:
		return "connecting"
	case ModeValidating:
		return "validating"
	case ModeConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText renders the mode by name in JSON payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Consumer is a client requesting a stream subscription.
type Consumer interface {
	ID() string
	QueueDetails() (broker.QueueDetails, error)
}

// StreamSubscriber manages one consumer's subscription on the shared channel.
type StreamSubscriber interface {
	StartConsuming(ch broker.Channel, queue string) error
	StopConsuming() error
}

// SubscriberFactory builds the subscriber for an admitted consumer.
type SubscriberFactory func(c Consumer) StreamSubscriber

// Dispatcher is the registry of live subscriptions.
type Dispatcher interface {
	// Track records an admitted subscription.
	Track(consumerID string, sub StreamSubscriber)

	// Find returns the subscription for consumerID. A ctx timeout reads as not found.
	Find(ctx context.Context, consumerID string) (StreamSubscriber, bool)

	// Forget removes consumerID without stopping it.
	Forget(consumerID string)

	// DropAll stops and removes every subscription.
	DropAll()

	// DisposeAll drops everything and releases the registry.
	DisposeAll()
}

// EchoController tracks consumer liveness.
type EchoController interface {
	ResetAll()
}

// Metrics records supervisor activity.
type Metrics interface {
	SetMode(mode string)
	ConnectAttempt(success bool)
	Admission(result string)
	ForcedReconnect(reason string)
	SetStashDepth(n int)
}

// Admission results reported to Metrics.
const (
	AdmissionAdmitted = "admitted"
	AdmissionDeferred = "deferred"
	AdmissionRetried  = "retried"
	AdmissionDropped  = "dropped"
	AdmissionRejected = "rejected"
)

// Hooks are optional callbacks invoked on the worker goroutine. They must not block.
type Hooks struct {
	OnModeChange      func(from, to Mode)
	OnAdmissionError  func(consumerID string, err error)
	OnConsumerDropped func(consumerID string, err error)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnModeChange == nil {
		h.OnModeChange = func(Mode, Mode) {}
	}
	if h.OnAdmissionError == nil {
		h.OnAdmissionError = func(string, error) {}
	}
	if h.OnConsumerDropped == nil {
		h.OnConsumerDropped = func(string, error) {}
	}
	return h
}

// Config holds supervisor tuning.
type Config struct {
	AutoReconnect          bool          // Wait for broker recovery instead of reconnecting immediately
	DisconnectionDelay     time.Duration // Grace period before probing a lost connection
	HeartbeatInterval      time.Duration // AMQP heartbeat
	ConnectBackoff         time.Duration // Pause between failed establishment attempts
	RecoveryInterval       time.Duration // Broker-level redial interval when AutoReconnect is on
	ConnectionName         string        // Client-provided connection name
	RetryThreshold         int           // Retries per consumer after the first failed attempt
	RetryDelay             time.Duration // Delay before an admission retry
	GlobalFailureThreshold int           // Failures tolerated before a forced reconnect
	RemovalTimeout         time.Duration // Bound on the dispatcher lookup during removal
	HealthCheckInterval    time.Duration // Reconciliation tick period
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:          false,
		DisconnectionDelay:     5 * time.Second,
		HeartbeatInterval:      10 * time.Second,
		ConnectBackoff:         100 * time.Millisecond,
		RecoveryInterval:       5 * time.Second,
		ConnectionName:         "stream-supervisor",
		RetryThreshold:         3,
		RetryDelay:             10 * time.Second,
		GlobalFailureThreshold: 10,
		RemovalTimeout:         5 * time.Second,
		HealthCheckInterval:    10 * time.Second,
	}
}

// Deps are the collaborators the supervisor drives.
type Deps struct {
	Dialer      broker.Dialer
	Dispatcher  Dispatcher
	Subscribers SubscriberFactory
	Echo        EchoController
}

// Stats is a snapshot of supervisor state, refreshed after every processed message.
type Stats struct {
	Mode             Mode      `json:"mode"`
	ConnectionID     uuid.UUID `json:"connection_id"`
	Stashed          int       `json:"stashed"`
	Queued           int       `json:"queued"`
	GlobalFailures   int       `json:"global_failures"`
	FailingConsumers int       `json:"failing_consumers"`
	PendingRetries   int       `json:"pending_retries"`
	Timers           int       `json:"timers"`
	Admitted         int64     `json:"admitted"`
	Dropped          int64     `json:"dropped"`
	Reconnects       int64     `json:"reconnects"`
}

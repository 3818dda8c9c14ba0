package supervisor

import "github.com/google/uuid"

// message is anything the worker goroutine processes.
type message interface {
	kind() string
}

// newConsumerMsg asks for a consumer to be admitted. attempt counts prior failed tries;
// retry identifies the scheduled retry that produced the message, 0 for a fresh request.
type newConsumerMsg struct {
	consumer Consumer
	attempt  int
	retry    uint64
}

type removeConsumerMsg struct {
	consumerID string
}

// shutdownNoticeMsg reports a connection loss. connID is uuid.Nil when no connection was held.
type shutdownNoticeMsg struct {
	connID uuid.UUID
	cause  error
}

type probeMsg struct {
	connID uuid.UUID
}

type connectedMsg struct {
	connID uuid.UUID
}

type recoveredMsg struct {
	connID uuid.UUID
}

type healthTickMsg struct{}

type shutdownMsg struct{}

func (newConsumerMsg) kind() string    { return "new_consumer" }
func (removeConsumerMsg) kind() string { return "remove_consumer" }
func (shutdownNoticeMsg) kind() string { return "shutdown_notice" }
func (probeMsg) kind() string          { return "probe" }
func (connectedMsg) kind() string      { return "connected" }
func (recoveredMsg) kind() string      { return "recovered" }
func (healthTickMsg) kind() string     { return "health_tick" }
func (shutdownMsg) kind() string       { return "shutdown" }

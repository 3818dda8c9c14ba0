package supervisor

import (
	"log/slog"

	"github.com/rickgao/stream-supervisor/internal/broker"
)

// channelManager holds the one channel all subscriptions share.
// It never leaves two live channels open at once.
type channelManager struct {
	ch       broker.Channel
	disposed bool
	logger   *slog.Logger
}

func newChannelManager(logger *slog.Logger) *channelManager {
	return &channelManager{disposed: true, logger: logger}
}

// open creates the channel on conn unless one is already held.
func (m *channelManager) open(conn broker.Connection) bool {
	if conn == nil || conn.IsClosed() {
		m.logger.Warn("cannot open channel, connection unavailable")
		return false
	}
	if !m.disposed {
		return true
	}
	ch, err := conn.Channel()
	if err != nil {
		m.logger.Warn("open channel failed", "conn_id", conn.ID(), "error", err)
		return false
	}
	m.ch = ch
	m.disposed = false
	m.logger.Debug("channel opened", "conn_id", conn.ID())
	return true
}

// valid reports whether the held channel can carry new subscriptions.
func (m *channelManager) valid() bool {
	return !m.disposed && m.ch != nil && !m.ch.IsClosed()
}

func (m *channelManager) current() broker.Channel {
	return m.ch
}

// dispose closes the held channel. Safe to call repeatedly.
func (m *channelManager) dispose() {
	if m.disposed {
		return
	}
	ch := m.ch
	m.ch = nil
	m.disposed = true
	if ch == nil || ch.IsClosed() {
		return
	}
	if err := ch.Close(); err != nil {
		m.logger.Debug("close channel", "error", err)
	}
}

// recreate replaces the held channel with a fresh one on conn.
func (m *channelManager) recreate(conn broker.Connection) bool {
	m.dispose()
	return m.open(conn)
}

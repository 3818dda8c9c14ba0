package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/stream-supervisor/internal/broker"
)

// connect starts establishment for the consumer that triggered it. The
// triggering request is already stashed and is dropped again on a fatal error.
func (s *supervisor) connect(c Consumer) {
	details, err := c.QueueDetails()
	if err != nil {
		s.mb.popStash()
		s.reportAdmissionError(c.ID(), fmt.Errorf("%w: %w", ErrFatalConfig, err))
		return
	}

	err = s.establish(details)
	switch {
	case err == nil:
	case errors.Is(err, ErrFatalConfig):
		s.mb.popStash()
		s.reportAdmissionError(c.ID(), err)
	default:
		s.logger.Info("establishment abandoned", "consumer", c.ID(), "error", err)
	}
}

func (s *supervisor) brokerOptions() broker.Options {
	return broker.Options{
		Heartbeat:        s.cfg.HeartbeatInterval,
		AutoRecover:      s.cfg.AutoReconnect,
		RecoveryInterval: s.cfg.RecoveryInterval,
		ConnectionName:   s.cfg.ConnectionName,
	}
}

// establish dials until a connection is open or Shutdown is called. It blocks
// the worker; the cancellation flag is checked once per attempt.
func (s *supervisor) establish(details broker.QueueDetails) error {
	params, err := broker.NewParams(details, s.brokerOptions())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatalConfig, err)
	}

	s.closeConnection()

	for attempt := 1; ; attempt++ {
		if s.cancelled.Load() {
			return ErrEstablishCancelled
		}

		conn, err := s.dialer.Dial(params)
		if err != nil {
			s.metrics.ConnectAttempt(false)
			if attempt == 1 || attempt%50 == 0 {
				s.logger.Warn("connect failed, retrying",
					"broker", params.Redacted(),
					"attempt", attempt,
					"error", err,
				)
			} else {
				s.logger.Debug("connect failed", "attempt", attempt, "error", err)
			}
			time.Sleep(s.cfg.ConnectBackoff)
			continue
		}

		s.metrics.ConnectAttempt(true)
		s.conn = conn
		s.lastDetails = &details
		conn.NotifyShutdown(s.onBrokerShutdown)
		s.channels.open(conn)

		s.logger.Info("connection established",
			"conn_id", conn.ID(),
			"broker", params.Redacted(),
			"attempts", attempt,
		)
		s.become(ModeConnecting)
		s.mb.send(connectedMsg{connID: conn.ID()})
		return nil
	}
}

// onBrokerShutdown runs on the broker's notification goroutine.
func (s *supervisor) onBrokerShutdown(id uuid.UUID, err error) {
	s.mb.send(shutdownNoticeMsg{connID: id, cause: err})
}

func (s *supervisor) closeConnection() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close connection", "conn_id", s.conn.ID(), "error", err)
	}
	s.conn = nil
}

// reconnect discards the connection and everything on it, then establishes a
// new one to the last known broker.
func (s *supervisor) reconnect(reason string, cause error) {
	s.logger.Warn("reconnecting", "reason", reason, "conn_id", s.connID(), "error", cause)
	s.reconnects++

	s.channels.dispose()
	s.closeConnection()
	s.become(ModeDisconnected)
	s.dispatcher.DropAll()

	if s.lastDetails == nil {
		s.logger.Warn("no broker known yet, waiting for next admission request")
		return
	}
	if err := s.establish(*s.lastDetails); err != nil {
		s.logger.Info("reconnect abandoned", "error", err)
	}
}

func (s *supervisor) forceReconnect(reason string) {
	s.metrics.ForcedReconnect(reason)
	s.reconnect(reason, ErrConnectionLost)
}

func (s *supervisor) onShutdownNotice(m shutdownNoticeMsg) {
	if s.terminated {
		s.settle()
		return
	}
	if !s.isCurrent(m.connID) {
		s.logger.Debug("ignoring shutdown notice", "conn_id", m.connID, "current", s.connID(), "error", ErrStaleNotice)
		return
	}

	switch s.mode {
	case ModeDisconnected:
		s.logger.Debug("shutdown notice while disconnected", "error", m.cause)
	case ModeValidating:
		s.reconnect("connection not recovered", m.cause)
	default:
		if !s.cfg.AutoReconnect {
			s.reconnect("broker closed connection", m.cause)
			return
		}
		s.logger.Warn("connection lost, waiting for broker recovery",
			"conn_id", m.connID,
			"delay", s.cfg.DisconnectionDelay,
			"error", m.cause,
		)
		s.become(ModeValidating)
		s.timers.once(s.cfg.DisconnectionDelay, probeMsg{connID: m.connID})
	}
}

// probe inspects the connection once the recovery grace period has passed.
func (s *supervisor) probe(m probeMsg) {
	if !s.isCurrent(m.connID) {
		s.logger.Debug("ignoring probe", "conn_id", m.connID, "error", ErrStaleNotice)
		return
	}

	switch {
	case s.conn == nil:
		s.mb.send(shutdownNoticeMsg{connID: uuid.Nil, cause: ErrConnectionLost})
	case s.conn.IsClosed():
		s.mb.send(shutdownNoticeMsg{connID: s.conn.ID(), cause: ErrConnectionLost})
	default:
		s.logger.Info("connection recovered by broker", "conn_id", s.conn.ID())
		s.echo.ResetAll()
		s.mb.send(recoveredMsg{connID: s.conn.ID()})
	}
}

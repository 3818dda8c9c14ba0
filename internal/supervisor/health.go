package supervisor

// checkHealth reconciles the believed mode with the actual connection.
func (s *supervisor) checkHealth() {
	if s.terminated {
		return
	}
	open := s.conn != nil && !s.conn.IsClosed()

	if s.mode == ModeConnected && !open {
		s.logger.Warn("health check found connection closed", "conn_id", s.connID())
		s.forceReconnect("health check")
		return
	}
	if s.mode != ModeDisconnected && open && !s.channels.valid() {
		s.logger.Warn("health check found channel invalid", "conn_id", s.connID())
		s.restoreChannel()
	}
}

// restoreChannel reopens the shared channel. Requests deferred for want of a
// channel are replayed once one is available again.
func (s *supervisor) restoreChannel() {
	if s.channels.recreate(s.conn) && s.mode == ModeConnected {
		s.unstash()
	}
}

// teardown runs once per supervisor. The trailing self notice settles the mode
// after anything already queued.
func (s *supervisor) teardown() {
	s.cancelled.Store(true)
	if s.terminated {
		s.logger.Debug("shutdown already in progress")
		return
	}
	s.terminated = true

	cancelled := s.timers.stop()
	clear(s.retries)
	s.channels.dispose()
	s.dispatcher.DropAll()

	s.logger.Info("shutting down", "conn_id", s.connID(), "timers_cancelled", cancelled)
	s.mb.send(shutdownNoticeMsg{connID: s.connID(), cause: ErrShutdown})
}

func (s *supervisor) settle() {
	s.channels.dispose()
	s.closeConnection()
	s.become(ModeDisconnected)
	s.settleOnce.Do(func() { close(s.settled) })
}

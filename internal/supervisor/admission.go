package supervisor

import (
	"fmt"
)

// admit runs the admission pipeline for one request in ModeConnected.
// State problems defer the request; processing failures go through the retry
// policy.
func (s *supervisor) admit(m newConsumerMsg) {
	c := m.consumer
	if c == nil {
		s.rejectNil()
		return
	}
	id := c.ID()
	if s.terminated {
		s.hold(m)
		return
	}
	if s.superseded(m) {
		return
	}

	if s.conn == nil || s.conn.IsClosed() {
		s.hold(m)
		s.metrics.Admission(AdmissionDeferred)
		s.mb.send(shutdownNoticeMsg{connID: s.connID(), cause: ErrConnectionLost})
		return
	}

	details, err := c.QueueDetails()
	if err != nil {
		s.reportAdmissionError(id, fmt.Errorf("%w: %w", ErrFatalConfig, err))
		return
	}
	if details.Name == "" {
		s.reportAdmissionError(id, ErrMissingQueueName)
		return
	}

	if !s.channels.valid() {
		s.logger.Warn("deferring admission", "consumer", id, "error", ErrChannelInvalid)
		s.hold(m)
		s.metrics.Admission(AdmissionDeferred)
		s.restoreChannel()
		return
	}

	// From here on this request supersedes any older retry.
	s.cancelRetry(id)

	sub := s.subscribers(c)
	if err := sub.StartConsuming(s.channels.current(), details.Name); err != nil {
		s.admissionFailed(m, fmt.Errorf("%w: %w", ErrSubscriptionStart, err))
		return
	}

	delete(s.failures, id)
	s.globalFailures = 0
	s.dispatcher.Track(id, sub)
	s.admitted++
	s.metrics.Admission(AdmissionAdmitted)
	s.logger.Info("consumer admitted", "consumer", id, "queue", details.Name, "attempt", m.attempt+1)
}

// admissionFailed applies the retry policy: a consumer gets RetryThreshold
// retries after its first attempt, and more than GlobalFailureThreshold
// failures since the last success forces a reconnect.
func (s *supervisor) admissionFailed(m newConsumerMsg, err error) {
	id := m.consumer.ID()
	prior := s.failures[id]
	s.failures[id] = prior + 1
	s.globalFailures++

	forced := false
	if s.globalFailures > s.cfg.GlobalFailureThreshold {
		s.globalFailures = 0
		forced = true
	}

	if prior < s.cfg.RetryThreshold {
		s.logger.Warn("admission failed, retrying",
			"consumer", id,
			"attempt", m.attempt+1,
			"delay", s.cfg.RetryDelay,
			"error", err,
		)
		s.retrySeq++
		retry := newConsumerMsg{consumer: m.consumer, attempt: m.attempt + 1, retry: s.retrySeq}
		if c := s.timers.once(s.cfg.RetryDelay, retry); c != nil {
			s.retries[id] = pendingRetry{timer: c, seq: s.retrySeq}
		}
		s.metrics.Admission(AdmissionRetried)
	} else {
		delete(s.failures, id)
		s.dropped++
		s.metrics.Admission(AdmissionDropped)
		dropErr := fmt.Errorf("%w after %d attempts: %w", ErrConsumerPoisoned, prior+1, err)
		s.logger.Error("consumer dropped", "consumer", id, "error", dropErr)
		s.hooks.OnConsumerDropped(id, dropErr)
	}

	if forced {
		s.forceReconnect("global failure threshold exceeded")
	}
}

func (s *supervisor) reportAdmissionError(consumerID string, err error) {
	s.cancelRetry(consumerID)
	s.metrics.Admission(AdmissionRejected)
	s.logger.Error("admission rejected", "consumer", consumerID, "error", err)
	s.hooks.OnAdmissionError(consumerID, err)
}

// pendingRetry is the one scheduled admission retry a consumer may have.
type pendingRetry struct {
	timer Cancellable
	seq   uint64
}

// superseded reports whether m is a retry that was cancelled or replaced after
// it was scheduled, for example by a removal or a newer request.
func (s *supervisor) superseded(m newConsumerMsg) bool {
	if m.retry == 0 {
		return false
	}
	p, ok := s.retries[m.consumer.ID()]
	if ok && p.seq == m.retry {
		return false
	}
	s.logger.Debug("dropping superseded admission retry", "consumer", m.consumer.ID(), "attempt", m.attempt+1)
	return true
}

// cancelRetry cancels and forgets consumerID's pending retry, if any.
func (s *supervisor) cancelRetry(consumerID string) bool {
	p, ok := s.retries[consumerID]
	if !ok {
		return false
	}
	p.timer.Cancel()
	delete(s.retries, consumerID)
	return true
}

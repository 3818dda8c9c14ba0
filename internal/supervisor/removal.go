package supervisor

import "context"

// removeConsumer stops and forgets consumerID's subscription if the dispatcher
// finds it within RemovalTimeout. A pending admission retry is cancelled too.
func (s *supervisor) removeConsumer(consumerID string) {
	if s.cancelRetry(consumerID) {
		s.logger.Debug("pending admission retry cancelled", "consumer", consumerID)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RemovalTimeout)
	defer cancel()

	sub, ok := s.dispatcher.Find(ctx, consumerID)
	if !ok {
		s.logger.Debug("no subscription to remove", "consumer", consumerID)
		return
	}
	if err := sub.StopConsuming(); err != nil {
		s.logger.Warn("stop consuming failed", "consumer", consumerID, "error", err)
	}
	s.dispatcher.Forget(consumerID)
	s.logger.Info("consumer removed", "consumer", consumerID)
}

package supervisor

import "errors"

// Errors
var (
	ErrSubscriptionStart  = errors.New("subscription start failed")
	ErrConsumerPoisoned   = errors.New("consumer retry budget exhausted")
	ErrConnectionLost     = errors.New("connection lost")
	ErrChannelInvalid     = errors.New("channel invalid")
	ErrFatalConfig        = errors.New("fatal consumer configuration")
	ErrMissingQueueName   = errors.New("queue name is missing")
	ErrStaleNotice        = errors.New("notice references a superseded connection")
	ErrEstablishCancelled = errors.New("connection establishment cancelled")
	ErrShutdown           = errors.New("supervisor shut down")
	ErrAlreadyStarted     = errors.New("supervisor already started")
	ErrMissingDependency  = errors.New("missing dependency")
)

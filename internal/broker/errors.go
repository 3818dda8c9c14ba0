package broker

import "errors"

// Errors
var (
	ErrInvalidQueueDetails = errors.New("invalid queue details")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrChannelClosed       = errors.New("channel closed")
	ErrUnknownConsumer     = errors.New("unknown consumer tag")
)

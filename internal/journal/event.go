package journal

import "time"

// Kind classifies a journal event.
type Kind string

const (
	KindModeChange      Kind = "mode_change"
	KindAdmissionError  Kind = "admission_error"
	KindConsumerDropped Kind = "consumer_dropped"
)

// Event is one journal row.
type Event struct {
	At         time.Time
	Kind       Kind
	ConsumerID string
	From       string
	To         string
	Detail     string
}

package journal

import (
	"github.com/rickgao/stream-supervisor/internal/supervisor"
)

// Recorder accepts journal events.
type Recorder interface {
	Record(ev Event)
}

// Hooks returns supervisor hooks that journal every callback to rec and
// then invoke the matching callback in base, if any.
func Hooks(rec Recorder, base supervisor.Hooks) supervisor.Hooks {
	return supervisor.Hooks{
		OnModeChange: func(from, to supervisor.Mode) {
			rec.Record(Event{Kind: KindModeChange, From: from.String(), To: to.String()})
			if base.OnModeChange != nil {
				base.OnModeChange(from, to)
			}
		},
		OnAdmissionError: func(consumerID string, err error) {
			rec.Record(Event{Kind: KindAdmissionError, ConsumerID: consumerID, Detail: errText(err)})
			if base.OnAdmissionError != nil {
				base.OnAdmissionError(consumerID, err)
			}
		},
		OnConsumerDropped: func(consumerID string, err error) {
			rec.Record(Event{Kind: KindConsumerDropped, ConsumerID: consumerID, Detail: errText(err)})
			if base.OnConsumerDropped != nil {
				base.OnConsumerDropped(consumerID, err)
			}
		},
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package echo tracks when each consumer last received a message.
package echo

import (
	"log/slog"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Controller records per-consumer heartbeats. Safe for concurrent use.
type Controller struct {
	beats  *xsync.Map[string, time.Time]
	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty Controller.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		beats:  xsync.NewMap[string, time.Time](),
		now:    time.Now,
		logger: logger.With("component", "echo"),
	}
}

// Beat marks consumerID as alive now.
func (c *Controller) Beat(consumerID string) {
	c.beats.Store(consumerID, c.now())
}

// Last returns the last beat for consumerID.
func (c *Controller) Last(consumerID string) (time.Time, bool) {
	return c.beats.Load(consumerID)
}

// Forget stops tracking consumerID.
func (c *Controller) Forget(consumerID string) {
	c.beats.Delete(consumerID)
}

// Stale returns the consumers whose last beat is older than maxAge, sorted.
func (c *Controller) Stale(maxAge time.Duration) []string {
	cutoff := c.now().Add(-maxAge)
	var stale []string
	c.beats.Range(func(id string, last time.Time) bool {
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
		return true
	})
	sort.Strings(stale)
	return stale
}

// ResetAll restarts every consumer's heartbeat clock. A recovered connection
// has delivered nothing yet, so silence before now is not held against anyone.
func (c *Controller) ResetAll() {
	now := c.now()
	n := 0
	c.beats.Range(func(id string, _ time.Time) bool {
		c.beats.Store(id, now)
		n++
		return true
	})
	c.logger.Debug("heartbeats reset", "consumers", n)
}

// Len returns the number of tracked consumers.
func (c *Controller) Len() int {
	return c.beats.Size()
}

package supervisor

import (
	"sync"
	"time"
)

// Cancellable is a pending scheduled action.
type Cancellable interface {
	// Cancel stops the action. It reports whether anything was still pending.
	Cancel() bool
}

// Scheduler runs callbacks later on its own goroutines.
type Scheduler interface {
	ScheduleOnce(delay time.Duration, fn func()) Cancellable
	ScheduleRepeating(initial, interval time.Duration, fn func()) Cancellable
}

// NewTimeScheduler returns a Scheduler backed by the runtime timer.
func NewTimeScheduler() Scheduler {
	return timeScheduler{}
}

type timeScheduler struct{}

type onceTimer struct {
	t *time.Timer
}

func (o onceTimer) Cancel() bool {
	return o.t.Stop()
}

func (timeScheduler) ScheduleOnce(delay time.Duration, fn func()) Cancellable {
	return onceTimer{t: time.AfterFunc(delay, fn)}
}

type repeatingTimer struct {
	stop chan struct{}
	once sync.Once
}

func (r *repeatingTimer) Cancel() bool {
	cancelled := false
	r.once.Do(func() {
		close(r.stop)
		cancelled = true
	})
	return cancelled
}

func (timeScheduler) ScheduleRepeating(initial, interval time.Duration, fn func()) Cancellable {
	r := &repeatingTimer{stop: make(chan struct{})}
	go func() {
		first := time.NewTimer(initial)
		defer first.Stop()
		select {
		case <-r.stop:
			return
		case <-first.C:
			fn()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return r
}

// timerSet tracks every timer the supervisor owns so shutdown can cancel them
// together. After stop, scheduling is refused and returns nil.
type timerSet struct {
	scheduler Scheduler
	mb        *mailbox

	mu      sync.Mutex
	nextID  uint64
	live    map[uint64]Cancellable
	stopped bool
}

func newTimerSet(scheduler Scheduler, mb *mailbox) *timerSet {
	return &timerSet{
		scheduler: scheduler,
		mb:        mb,
		live:      make(map[uint64]Cancellable),
	}
}

// once delivers msg to the mailbox after delay.
func (t *timerSet) once(delay time.Duration, msg message) Cancellable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	id := t.nextID
	t.nextID++
	c := t.scheduler.ScheduleOnce(delay, func() {
		t.forget(id)
		t.mb.send(msg)
	})
	t.live[id] = c
	return trackedTimer{set: t, id: id, inner: c}
}

// repeating delivers msg every interval until cancelled or stopped.
func (t *timerSet) repeating(initial, interval time.Duration, msg message) Cancellable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	id := t.nextID
	t.nextID++
	c := t.scheduler.ScheduleRepeating(initial, interval, func() {
		t.mb.send(msg)
	})
	t.live[id] = c
	return trackedTimer{set: t, id: id, inner: c}
}

func (t *timerSet) forget(id uint64) {
	t.mu.Lock()
	delete(t.live, id)
	t.mu.Unlock()
}

// trackedTimer leaves the set when cancelled.
type trackedTimer struct {
	set   *timerSet
	id    uint64
	inner Cancellable
}

func (tt trackedTimer) Cancel() bool {
	tt.set.forget(tt.id)
	return tt.inner.Cancel()
}

// stop cancels everything outstanding and reports how many were still pending.
func (t *timerSet) stop() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0
	}
	t.stopped = true
	n := 0
	for id, c := range t.live {
		if c.Cancel() {
			n++
		}
		delete(t.live, id)
	}
	return n
}

// pending counts timers that have neither fired nor been cancelled.
func (t *timerSet) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

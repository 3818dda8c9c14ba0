package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/stream-supervisor/internal/broker"
)

// journal records cross-fake events in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeChannel struct {
	mu     sync.Mutex
	closed bool
	closes int
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Qos(int) error { return nil }

func (c *fakeChannel) Consume(string, string) (<-chan amqp.Delivery, error) {
	return make(chan amqp.Delivery), nil
}

func (c *fakeChannel) Cancel(string) error { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closed = true
	return nil
}

func (c *fakeChannel) setClosed(closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = closed
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeConn struct {
	id uuid.UUID

	mu        sync.Mutex
	closed    bool
	closes    int
	listeners []broker.ShutdownListener
	channels  []*fakeChannel
}

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.ErrConnectionClosed
	}
	ch := &fakeChannel{}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyShutdown(l broker.ShutdownListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closed = true
	for _, ch := range c.channels {
		ch.setClosed(true)
	}
	return nil
}

// drop simulates the broker closing the connection.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.closed = true
	for _, ch := range c.channels {
		ch.setClosed(true)
	}
	listeners := append([]broker.ShutdownListener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(c.id, err)
	}
}

// recover simulates broker-level recovery under the same identity.
func (c *fakeConn) recover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	for _, ch := range c.channels {
		ch.setClosed(false)
	}
}

func (c *fakeConn) setClosed(closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = closed
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) channelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func (c *fakeConn) lastChannel() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

type fakeDialer struct {
	mu         sync.Mutex
	failFirst  int
	failAlways bool
	dials      int
	conns      []*fakeConn
}

func (d *fakeDialer) Dial(broker.Params) (broker.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAlways || d.dials <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	conn := &fakeConn{id: uuid.New()}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// fakeFactory builds subscribers whose StartConsuming fails on a per-consumer script.
type fakeFactory struct {
	journal *journal

	mu       sync.Mutex
	failures map[string]int // remaining failures, -1 for always
	attempts map[string]int
}

func (f *fakeFactory) build(c Consumer) StreamSubscriber {
	return &fakeSubscriber{id: c.ID(), factory: f}
}

func (f *fakeFactory) failNext(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = n
}

func (f *fakeFactory) failAlways(id string) {
	f.failNext(id, -1)
}

func (f *fakeFactory) attemptsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func (f *fakeFactory) start(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	switch n := f.failures[id]; {
	case n < 0:
		return errors.New("queue not found")
	case n > 0:
		f.failures[id] = n - 1
		return errors.New("queue not found")
	}
	f.journal.add("start:%s", id)
	return nil
}

type fakeSubscriber struct {
	id      string
	factory *fakeFactory
}

func (s *fakeSubscriber) StartConsuming(ch broker.Channel, queue string) error {
	if ch == nil || ch.IsClosed() {
		return broker.ErrChannelClosed
	}
	return s.factory.start(s.id)
}

func (s *fakeSubscriber) StopConsuming() error {
	s.factory.journal.add("stop:%s", s.id)
	return nil
}

type fakeDispatcher struct {
	journal *journal

	mu        sync.Mutex
	block     bool
	tracked   map[string]StreamSubscriber
	order     []string
	forgotten []string
	drops     int
	disposals int
}

func (d *fakeDispatcher) Track(id string, sub StreamSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracked[id] = sub
	d.order = append(d.order, id)
}

func (d *fakeDispatcher) Find(ctx context.Context, id string) (StreamSubscriber, bool) {
	d.journal.add("find:%s", id)
	d.mu.Lock()
	block := d.block
	sub, ok := d.tracked[id]
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, false
	}
	return sub, ok
}

func (d *fakeDispatcher) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tracked, id)
	d.forgotten = append(d.forgotten, id)
}

func (d *fakeDispatcher) DropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops++
	d.tracked = make(map[string]StreamSubscriber)
}

func (d *fakeDispatcher) DisposeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposals++
}

func (d *fakeDispatcher) dropCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drops
}

func (d *fakeDispatcher) trackedOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

func (d *fakeDispatcher) isTracked(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tracked[id]
	return ok
}

type fakeEcho struct {
	mu     sync.Mutex
	resets int
}

func (e *fakeEcho) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

func (e *fakeEcho) resetCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// manualScheduler only runs callbacks when a test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s         *manualScheduler
	delay     time.Duration
	repeating bool
	fn        func()
	fired     bool
	cancelled bool
}

func (m *manualTimer) Cancel() bool {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.cancelled || (m.fired && !m.repeating) {
		return false
	}
	m.cancelled = true
	return true
}

func (m *manualScheduler) ScheduleOnce(delay time.Duration, fn func()) Cancellable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{s: m, delay: delay, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualScheduler) ScheduleRepeating(initial, _ time.Duration, fn func()) Cancellable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{s: m, delay: initial, fn: fn, repeating: true}
	m.timers = append(m.timers, t)
	return t
}

// pendingOnce returns one-shot timers that have neither fired nor been cancelled.
func (m *manualScheduler) pendingOnce() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTimer
	for _, t := range m.timers {
		if !t.repeating && !t.fired && !t.cancelled {
			out = append(out, t)
		}
	}
	return out
}

func (m *manualScheduler) live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.cancelled && (t.repeating || !t.fired) {
			n++
		}
	}
	return n
}

func (m *manualScheduler) onlyPendingOnce(t *testing.T) *manualTimer {
	t.Helper()
	pending := m.pendingOnce()
	require.Len(t, pending, 1)
	return pending[0]
}

func (m *manualScheduler) fire(t *manualTimer) {
	m.mu.Lock()
	t.fired = true
	fn := t.fn
	m.mu.Unlock()
	fn()
}

type testConsumer struct {
	id      string
	details broker.QueueDetails
	err     error
}

func (c *testConsumer) ID() string { return c.id }

func (c *testConsumer) QueueDetails() (broker.QueueDetails, error) {
	return c.details, c.err
}

func consumer(id string) *testConsumer {
	return &testConsumer{
		id: id,
		details: broker.QueueDetails{
			Name:        id + ".stream",
			Host:        "localhost",
			Port:        5672,
			User:        "guest",
			Password:    "guest",
			VirtualHost: "/",
		},
	}
}

type harness struct {
	s          *supervisor
	dialer     *fakeDialer
	dispatcher *fakeDispatcher
	factory    *fakeFactory
	echo       *fakeEcho
	sched      *manualScheduler
	journal    *journal

	mu          sync.Mutex
	transitions []Mode
	rejected    map[string]error
	dropped     map[string]error
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ConnectBackoff = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	j := &journal{}
	h := &harness{
		dialer:     &fakeDialer{},
		dispatcher: &fakeDispatcher{journal: j, tracked: make(map[string]StreamSubscriber)},
		factory:    &fakeFactory{journal: j, failures: make(map[string]int), attempts: make(map[string]int)},
		echo:       &fakeEcho{},
		sched:      &manualScheduler{},
		journal:    j,
		rejected:   make(map[string]error),
		dropped:    make(map[string]error),
	}

	hooks := Hooks{
		OnModeChange: func(_, to Mode) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, to)
		},
		OnAdmissionError: func(id string, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.rejected[id] = err
		},
		OnConsumerDropped: func(id string, err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.dropped[id] = err
		},
	}

	s, err := newSupervisor(cfg, Deps{
		Dialer:      h.dialer,
		Dispatcher:  h.dispatcher,
		Subscribers: h.factory.build,
		Echo:        h.echo,
	},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithScheduler(h.sched),
		WithHooks(hooks),
	)
	require.NoError(t, err)
	h.s = s
	return h
}

func (h *harness) drain() {
	h.s.drain()
}

// connect admits a seed consumer so a connection exists.
func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	h.s.NewConsumer(consumer("seed"))
	h.drain()
	require.Equal(t, ModeConnected, h.s.Mode())
	return h.dialer.conn(h.dialer.connCount() - 1)
}

func (h *harness) modeTransitions() []Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Mode(nil), h.transitions...)
}

func (h *harness) rejection(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rejected[id]
}

func (h *harness) drop(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped[id]
}

package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/stream-supervisor/internal/supervisor"
)

var _ supervisor.Dispatcher = (*Dispatcher)(nil)

type op int

const (
	opTrack op = iota
	opFind
	opForget
	opDropAll
	opList
)

type request struct {
	op    op
	id    string
	sub   supervisor.StreamSubscriber
	found chan supervisor.StreamSubscriber
	ids   chan []string
	ack   chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOnDrop sets a callback invoked with each consumer ID removed by DropAll.
// It runs on the registry goroutine and must not call back into the Dispatcher.
func WithOnDrop(fn func(consumerID string)) Option {
	return func(d *Dispatcher) {
		d.onDrop = fn
	}
}

// Dispatcher tracks live subscriptions by consumer ID.
type Dispatcher struct {
	requests chan request
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	onDrop   func(string)
	logger   *slog.Logger
}

// New starts a Dispatcher. Call DisposeAll to stop it.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		requests: make(chan request),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		onDrop:   func(string) {},
		logger:   logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Track records sub for consumerID, stopping any subscription it replaces.
// After DisposeAll the subscriber is stopped immediately.
func (d *Dispatcher) Track(consumerID string, sub supervisor.StreamSubscriber) {
	if !d.send(context.Background(), request{op: opTrack, id: consumerID, sub: sub}) {
		d.logger.Warn("dispatcher disposed, stopping late subscription", "consumer", consumerID)
		d.stop(consumerID, sub)
	}
}

// Find looks up consumerID. A ctx deadline reads as not found.
func (d *Dispatcher) Find(ctx context.Context, consumerID string) (supervisor.StreamSubscriber, bool) {
	found := make(chan supervisor.StreamSubscriber, 1)
	if !d.send(ctx, request{op: opFind, id: consumerID, found: found}) {
		return nil, false
	}
	select {
	case sub := <-found:
		return sub, sub != nil
	case <-ctx.Done():
		d.logger.Warn("lookup timed out", "consumer", consumerID, "error", ctx.Err())
		return nil, false
	}
}

// Forget removes consumerID without stopping it.
func (d *Dispatcher) Forget(consumerID string) {
	d.send(context.Background(), request{op: opForget, id: consumerID})
}

// DropAll stops every subscription and empties the registry. It returns once
// all subscriptions are stopped.
func (d *Dispatcher) DropAll() {
	ack := make(chan struct{})
	if d.send(context.Background(), request{op: opDropAll, ack: ack}) {
		<-ack
	}
}

// DisposeAll stops every subscription and the registry goroutine. Safe to call
// more than once.
func (d *Dispatcher) DisposeAll() {
	d.once.Do(func() { close(d.done) })
	<-d.stopped
}

// IDs returns the tracked consumer IDs in sorted order.
func (d *Dispatcher) IDs() []string {
	ids := make(chan []string, 1)
	if !d.send(context.Background(), request{op: opList, ids: ids}) {
		return nil
	}
	return <-ids
}

func (d *Dispatcher) send(ctx context.Context, req request) bool {
	select {
	case d.requests <- req:
		return true
	case <-d.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	subs := make(map[string]supervisor.StreamSubscriber)
	for {
		select {
		case <-d.done:
			n := d.stopAll(subs)
			d.logger.Info("dispatcher disposed", "stopped", n)
			return
		case req := <-d.requests:
			d.handle(subs, req)
		}
	}
}

func (d *Dispatcher) handle(subs map[string]supervisor.StreamSubscriber, req request) {
	switch req.op {
	case opTrack:
		if old, ok := subs[req.id]; ok && old != req.sub {
			d.logger.Warn("replacing tracked subscription", "consumer", req.id)
			d.stop(req.id, old)
		}
		subs[req.id] = req.sub
		d.logger.Debug("subscription tracked", "consumer", req.id, "total", len(subs))

	case opFind:
		req.found <- subs[req.id]

	case opForget:
		delete(subs, req.id)

	case opDropAll:
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		d.stopAll(subs)
		if len(ids) > 0 {
			d.logger.Info("dropped all subscriptions", "count", len(ids))
		}
		for _, id := range ids {
			d.onDrop(id)
		}
		close(req.ack)

	case opList:
		ids := make([]string, 0, len(subs))
		for id := range subs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		req.ids <- ids
	}
}

func (d *Dispatcher) stopAll(subs map[string]supervisor.StreamSubscriber) int {
	n := 0
	for id, sub := range subs {
		d.stop(id, sub)
		delete(subs, id)
		n++
	}
	return n
}

func (d *Dispatcher) stop(consumerID string, sub supervisor.StreamSubscriber) {
	if sub == nil {
		return
	}
	if err := sub.StopConsuming(); err != nil {
		d.logger.Warn("stop consuming failed", "consumer", consumerID, "error", err)
	}
}

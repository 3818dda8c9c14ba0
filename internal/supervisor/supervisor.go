package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/stream-supervisor/internal/broker"
	"github.com/rickgao/stream-supervisor/internal/metrics"
)

// Supervisor owns the broker connection on behalf of all stream consumers.
type Supervisor interface {
	// Start launches the worker and the periodic health check.
	Start(ctx context.Context) error

	// Stop shuts down, waits for the mode to settle, then disposes the dispatcher.
	Stop(ctx context.Context) error

	// NewConsumer requests admission of c.
	NewConsumer(c Consumer)

	// RemoveConsumer requests removal of the consumer's subscription.
	RemoveConsumer(consumerID string)

	// Shutdown cancels any establishment in progress and tears everything down.
	Shutdown()

	// Mode returns the last applied mode.
	Mode() Mode

	// Stats returns a snapshot taken after the last processed message.
	Stats() Stats
}

var (
	_ Metrics = (*metrics.Nop)(nil)
	_ Metrics = (*metrics.Prometheus)(nil)
)

// supervisor implements Supervisor. Fields below the mailbox are owned by the
// worker goroutine.
type supervisor struct {
	cfg         Config
	dialer      broker.Dialer
	dispatcher  Dispatcher
	subscribers SubscriberFactory
	echo        EchoController
	scheduler   Scheduler
	hooks       Hooks
	metrics     Metrics
	logger      *slog.Logger

	mb     *mailbox
	timers *timerSet

	mode           Mode
	receive        func(message)
	conn           broker.Connection
	channels       *channelManager
	lastDetails    *broker.QueueDetails
	failures       map[string]int
	globalFailures int
	retries        map[string]pendingRetry
	retrySeq       uint64
	terminated     bool

	// cancelled is set by Shutdown from any goroutine and polled by establishment.
	cancelled atomic.Bool
	modeView  atomic.Int32

	statsMu sync.Mutex
	stats   Stats

	admitted   int64
	dropped    int64
	reconnects int64

	settled    chan struct{}
	settleOnce sync.Once

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// New creates a Supervisor in ModeDisconnected. Nothing runs until Start.
func New(cfg Config, deps Deps, opts ...Option) (Supervisor, error) {
	s, err := newSupervisor(cfg, deps, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSupervisor(cfg Config, deps Deps, opts ...Option) (*supervisor, error) {
	switch {
	case deps.Dialer == nil:
		return nil, fmt.Errorf("%w: dialer", ErrMissingDependency)
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	case deps.Subscribers == nil:
		return nil, fmt.Errorf("%w: subscriber factory", ErrMissingDependency)
	case deps.Echo == nil:
		return nil, fmt.Errorf("%w: echo controller", ErrMissingDependency)
	}

	s := &supervisor{
		cfg:         cfg,
		dialer:      deps.Dialer,
		dispatcher:  deps.Dispatcher,
		subscribers: deps.Subscribers,
		echo:        deps.Echo,
		scheduler:   NewTimeScheduler(),
		hooks:       Hooks{}.withDefaults(),
		metrics:     metrics.NewNop(),
		logger:      slog.Default(),
		mb:          newMailbox(),
		failures:    make(map[string]int),
		retries:     make(map[string]pendingRetry),
		settled:     make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "supervisor")
	s.timers = newTimerSet(s.scheduler, s.mb)
	s.channels = newChannelManager(s.logger)
	s.become(ModeDisconnected)
	s.metrics.SetMode(s.mode.String())
	return s, nil
}

// Start launches the worker goroutine.
func (s *supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.HealthCheckInterval > 0 {
		s.timers.repeating(s.cfg.HealthCheckInterval, s.cfg.HealthCheckInterval, healthTickMsg{})
	}

	go s.run()

	s.logger.Info("supervisor started",
		"auto_reconnect", s.cfg.AutoReconnect,
		"health_interval", s.cfg.HealthCheckInterval,
	)
	return nil
}

// Stop shuts down and waits for the worker to finish, bounded by ctx.
func (s *supervisor) Stop(ctx context.Context) error {
	s.Shutdown()

	if !s.started.Load() {
		s.dispatcher.DisposeAll()
		return nil
	}

	var err error
	select {
	case <-s.settled:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for shutdown to settle: %w", ctx.Err())
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("waiting for worker: %w", ctx.Err())
		}
	}

	s.dispatcher.DisposeAll()
	s.logger.Info("supervisor stopped", "mode", s.Mode())
	return err
}

func (s *supervisor) NewConsumer(c Consumer) {
	s.mb.send(newConsumerMsg{consumer: c})
}

func (s *supervisor) RemoveConsumer(consumerID string) {
	s.mb.send(removeConsumerMsg{consumerID: consumerID})
}

// Shutdown raises the cancellation flag first so a blocked establishment loop
// exits before the shutdown message is reached.
func (s *supervisor) Shutdown() {
	s.cancelled.Store(true)
	s.mb.send(shutdownMsg{})
}

func (s *supervisor) Mode() Mode {
	return Mode(s.modeView.Load())
}

func (s *supervisor) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *supervisor) run() {
	defer close(s.done)
	for {
		s.drain()
		select {
		case <-s.ctx.Done():
			return
		case <-s.mb.notify:
		}
	}
}

// drain processes messages until the mailbox is empty.
func (s *supervisor) drain() {
	for {
		msg, ok := s.mb.next()
		if !ok {
			return
		}
		s.receive(msg)
		s.publishStats()
	}
}

// become swaps the message handler. Entering ModeConnected replays the stash.
func (s *supervisor) become(mode Mode) {
	prev := s.mode
	s.mode = mode
	s.modeView.Store(int32(mode))

	switch mode {
	case ModeDisconnected:
		s.receive = s.disconnected
	case ModeConnecting:
		s.receive = s.connecting
	case ModeValidating:
		s.receive = s.validating
	case ModeConnected:
		s.receive = s.connected
	}

	if prev != mode {
		s.logger.Info("mode changed", "from", prev, "to", mode, "conn_id", s.connID())
		s.metrics.SetMode(mode.String())
		s.hooks.OnModeChange(prev, mode)
	}

	if mode == ModeConnected {
		s.unstash()
	}
}

func (s *supervisor) unstash() {
	if n := s.mb.unstashAll(); n > 0 {
		s.logger.Debug("replaying deferred requests", "count", n)
	}
}

func (s *supervisor) hold(msg message) {
	s.mb.hold(msg)
}

func (s *supervisor) disconnected(msg message) {
	switch m := msg.(type) {
	case newConsumerMsg:
		if m.consumer == nil {
			s.rejectNil()
			return
		}
		if s.superseded(m) {
			return
		}
		s.hold(m)
		s.connect(m.consumer)
	case removeConsumerMsg:
		s.removeConsumer(m.consumerID)
	case shutdownNoticeMsg:
		s.onShutdownNotice(m)
	case healthTickMsg:
		s.checkHealth()
	case shutdownMsg:
		s.teardown()
	default:
		s.ignore(msg)
	}
}

func (s *supervisor) connecting(msg message) {
	switch m := msg.(type) {
	case newConsumerMsg:
		if m.consumer == nil {
			s.rejectNil()
			return
		}
		s.hold(m)
	case removeConsumerMsg:
		s.removeConsumer(m.consumerID)
	case connectedMsg:
		if !s.isCurrent(m.connID) {
			s.logger.Debug("ignoring connected message for superseded connection", "conn_id", m.connID)
			return
		}
		s.become(ModeConnected)
	case shutdownNoticeMsg:
		s.onShutdownNotice(m)
	case healthTickMsg:
		s.checkHealth()
	case shutdownMsg:
		s.teardown()
	default:
		s.ignore(msg)
	}
}

func (s *supervisor) connected(msg message) {
	switch m := msg.(type) {
	case newConsumerMsg:
		s.admit(m)
	case removeConsumerMsg:
		s.removeConsumer(m.consumerID)
	case shutdownNoticeMsg:
		s.onShutdownNotice(m)
	case healthTickMsg:
		s.checkHealth()
	case shutdownMsg:
		s.teardown()
	default:
		s.ignore(msg)
	}
}

func (s *supervisor) validating(msg message) {
	switch m := msg.(type) {
	case newConsumerMsg, removeConsumerMsg:
		s.hold(msg)
	case probeMsg:
		s.probe(m)
	case recoveredMsg:
		if !s.isCurrent(m.connID) {
			s.logger.Debug("ignoring recovery of superseded connection", "conn_id", m.connID)
			return
		}
		s.channels.open(s.conn)
		s.become(ModeConnected)
	case shutdownNoticeMsg:
		s.onShutdownNotice(m)
	case healthTickMsg:
		s.checkHealth()
	case shutdownMsg:
		s.teardown()
	default:
		s.ignore(msg)
	}
}

func (s *supervisor) ignore(msg message) {
	s.logger.Debug("message ignored", "kind", msg.kind(), "mode", s.mode)
}

func (s *supervisor) rejectNil() {
	s.logger.Warn("rejecting admission request without a consumer")
	s.metrics.Admission(AdmissionRejected)
}

// connID returns the held connection's identity, or uuid.Nil.
func (s *supervisor) connID() uuid.UUID {
	if s.conn == nil {
		return uuid.Nil
	}
	return s.conn.ID()
}

func (s *supervisor) isCurrent(id uuid.UUID) bool {
	return id == s.connID()
}

func (s *supervisor) publishStats() {
	queued, stashed := s.mb.depths()
	s.metrics.SetStashDepth(stashed)

	s.statsMu.Lock()
	s.stats = Stats{
		Mode:             s.mode,
		ConnectionID:     s.connID(),
		Stashed:          stashed,
		Queued:           queued,
		GlobalFailures:   s.globalFailures,
		FailingConsumers: len(s.failures),
		PendingRetries:   len(s.retries),
		Timers:           s.timers.pending(),
		Admitted:         s.admitted,
		Dropped:          s.dropped,
		Reconnects:       s.reconnects,
	}
	s.statsMu.Unlock()
}

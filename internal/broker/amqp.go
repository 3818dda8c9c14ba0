package broker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultRecoveryInterval = 5 * time.Second

// rawConn is the subset of *amqp.Connection the recovering connection drives.
type rawConn interface {
	channel() (rawChannel, error)
	notifyClose(c chan *amqp.Error) chan *amqp.Error
	isClosed() bool
	close() error
}

// rawChannel is satisfied by *amqp.Channel.
type rawChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

type dialFunc func(p Params) (rawConn, error)

// amqpConn adapts *amqp.Connection to rawConn.
type amqpConn struct {
	conn *amqp.Connection
}

func (a amqpConn) channel() (rawChannel, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (a amqpConn) notifyClose(c chan *amqp.Error) chan *amqp.Error { return a.conn.NotifyClose(c) }
func (a amqpConn) isClosed() bool                                  { return a.conn.IsClosed() }
func (a amqpConn) close() error                                    { return a.conn.Close() }

func dialAMQP(p Params) (rawConn, error) {
	conn, err := amqp.DialConfig(p.URI(), p.Config())
	if err != nil {
		return nil, err
	}
	return amqpConn{conn: conn}, nil
}

// AMQPDialer opens RabbitMQ connections with amqp091-go.
type AMQPDialer struct {
	logger *slog.Logger
	dial   dialFunc
}

// NewAMQPDialer creates a dialer for real broker connections.
func NewAMQPDialer(logger *slog.Logger) *AMQPDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPDialer{logger: logger, dial: dialAMQP}
}

// Dial opens one connection. When p.AutoRecover is set the returned handle
// keeps its identity while it redials in the background after a broker close.
func (d *AMQPDialer) Dial(p Params) (Connection, error) {
	raw, err := d.dial(p)
	if err != nil {
		return nil, fmt.Errorf("amqp dial %s: %w", p.Redacted(), err)
	}
	return newRecoveringConn(p, d.dial, raw, d.logger), nil
}

// Compile-time check that AMQPDialer satisfies Dialer.
var _ Dialer = (*AMQPDialer)(nil)

// recoveringConn implements Connection on top of a replaceable raw connection.
type recoveringConn struct {
	id     uuid.UUID
	params Params
	dial   dialFunc
	logger *slog.Logger

	mu        sync.Mutex
	raw       rawConn
	closed    bool // Close was called
	channels  map[*recoveringChannel]struct{}
	listeners []ShutdownListener

	done chan struct{}
	wg   sync.WaitGroup
}

func newRecoveringConn(p Params, dial dialFunc, raw rawConn, logger *slog.Logger) *recoveringConn {
	if logger == nil {
		logger = slog.Default()
	}

	c := &recoveringConn{
		id:       uuid.New(),
		params:   p,
		dial:     dial,
		raw:      raw,
		channels: make(map[*recoveringChannel]struct{}),
		done:     make(chan struct{}),
	}
	c.logger = logger.With("conn_id", c.id.String())

	c.wg.Add(1)
	go c.watch(raw)

	return c
}

func (c *recoveringConn) ID() uuid.UUID {
	return c.id
}

func (c *recoveringConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.raw.isClosed()
}

func (c *recoveringConn) NotifyShutdown(l ShutdownListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *recoveringConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.raw.isClosed() {
		return nil, ErrConnectionClosed
	}

	raw, err := c.raw.channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	ch := newRecoveringChannel(c, raw)
	c.channels[ch] = struct{}{}
	return ch, nil
}

func (c *recoveringConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	raw := c.raw
	chans := c.channelsLocked()
	c.mu.Unlock()

	// Closing the raw connection first closes every delivery stream, which
	// lets the channel consumers drain.
	var err error
	if !raw.isClosed() {
		err = raw.close()
	}
	for _, ch := range chans {
		ch.shutdown()
	}

	c.wg.Wait()
	return err
}

func (c *recoveringConn) channelsLocked() []*recoveringChannel {
	chans := make([]*recoveringChannel, 0, len(c.channels))
	for ch := range c.channels {
		chans = append(chans, ch)
	}
	return chans
}

func (c *recoveringConn) forget(ch *recoveringChannel) {
	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
}

// recoverable reports whether a closed channel will be reopened by connection recovery.
func (c *recoveringConn) recoverable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.AutoRecover && !c.closed && c.raw.isClosed()
}

// watch waits for raw to close and, unless Close was called, notifies the
// shutdown listeners and starts recovery.
func (c *recoveringConn) watch(raw rawConn) {
	defer c.wg.Done()

	notify := raw.notifyClose(make(chan *amqp.Error, 1))

	var amqpErr *amqp.Error
	select {
	case <-c.done:
		return
	case amqpErr = <-notify:
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	listeners := append([]ShutdownListener(nil), c.listeners...)
	chans := c.channelsLocked()
	c.mu.Unlock()

	err := ErrConnectionClosed
	if amqpErr != nil {
		err = fmt.Errorf("%w: %s", ErrConnectionClosed, amqpErr.Error())
	}

	c.logger.Warn("connection closed by broker",
		"error", err,
		"auto_recover", c.params.AutoRecover,
	)

	for _, l := range listeners {
		l(c.id, err)
	}

	if !c.params.AutoRecover {
		for _, ch := range chans {
			ch.shutdown()
		}
		return
	}

	c.recover()
}

// recover redials at a fixed interval until it succeeds or Close is called.
func (c *recoveringConn) recover() {
	interval := c.params.RecoveryInterval
	if interval <= 0 {
		interval = defaultRecoveryInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return
		case <-timer.C:
		}

		raw, err := c.dial(c.params)
		if err != nil {
			c.logger.Warn("recovery attempt failed",
				"attempt", attempt,
				"error", err,
			)
			timer.Reset(interval)
			continue
		}

		// Channels are restored before raw is published so IsClosed stays true
		// until they can carry consumers again.
		c.mu.Lock()
		chans := c.channelsLocked()
		c.mu.Unlock()

		for _, ch := range chans {
			if err := ch.recover(raw); err != nil {
				c.logger.Warn("channel recovery failed", "error", err)
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			raw.close()
			return
		}
		c.raw = raw
		c.mu.Unlock()

		c.wg.Add(1)
		go c.watch(raw)

		c.logger.Info("connection recovered",
			"attempt", attempt,
			"channels", len(chans),
		)
		return
	}
}

// consumeRecord remembers a consume so it can be re-issued after recovery.
// Deliveries from every incarnation of the raw channel are forwarded to out.
type consumeRecord struct {
	queue string
	out   chan amqp.Delivery
	stop  chan struct{}
	pumps sync.WaitGroup
	once  sync.Once
}

func newConsumeRecord(queue string) *consumeRecord {
	return &consumeRecord{
		queue: queue,
		out:   make(chan amqp.Delivery),
		stop:  make(chan struct{}),
	}
}

func (r *consumeRecord) start(in <-chan amqp.Delivery) {
	r.pumps.Add(1)
	go r.pump(in)
}

func (r *consumeRecord) pump(in <-chan amqp.Delivery) {
	defer r.pumps.Done()
	for d := range in {
		select {
		case r.out <- d:
		case <-r.stop:
			return
		}
	}
}

// terminate closes out once every pump has exited. The caller must have
// already closed (or cancelled) the raw delivery streams.
func (r *consumeRecord) terminate() {
	r.once.Do(func() {
		close(r.stop)
		r.pumps.Wait()
		close(r.out)
	})
}

// recoveringChannel implements Channel and survives connection recovery.
type recoveringChannel struct {
	conn *recoveringConn

	mu        sync.Mutex
	raw       rawChannel
	prefetch  int
	closed    bool
	consumers map[string]*consumeRecord
}

func newRecoveringChannel(conn *recoveringConn, raw rawChannel) *recoveringChannel {
	ch := &recoveringChannel{
		conn:      conn,
		raw:       raw,
		consumers: make(map[string]*consumeRecord),
	}
	go ch.watch(raw)
	return ch
}

func (ch *recoveringChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed || ch.raw.IsClosed()
}

func (ch *recoveringChannel) Qos(prefetch int) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return ErrChannelClosed
	}
	if err := ch.raw.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	ch.prefetch = prefetch
	return nil
}

func (ch *recoveringChannel) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return nil, ErrChannelClosed
	}

	in, err := ch.raw.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	rec := newConsumeRecord(queue)
	rec.start(in)
	ch.consumers[consumerTag] = rec

	return rec.out, nil
}

func (ch *recoveringChannel) Cancel(consumerTag string) error {
	ch.mu.Lock()
	rec, ok := ch.consumers[consumerTag]
	if ok {
		delete(ch.consumers, consumerTag)
	}
	raw := ch.raw
	ch.mu.Unlock()

	if !ok {
		return ErrUnknownConsumer
	}

	var err error
	if !raw.IsClosed() {
		if cerr := raw.Cancel(consumerTag, false); cerr != nil {
			err = fmt.Errorf("cancel %s: %w", consumerTag, cerr)
		}
	}
	rec.terminate()
	return err
}

func (ch *recoveringChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	raw := ch.raw
	ch.mu.Unlock()

	var err error
	if !raw.IsClosed() {
		err = raw.Close()
	}
	ch.shutdown()
	return err
}

// shutdown marks the channel closed and ends every consumer stream. The raw
// channel must already be closed.
func (ch *recoveringChannel) shutdown() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	recs := ch.consumers
	ch.consumers = make(map[string]*consumeRecord)
	ch.mu.Unlock()

	ch.conn.forget(ch)
	for _, rec := range recs {
		rec.terminate()
	}
}

// watch ends the channel when the broker closes it, unless connection
// recovery is going to reopen it.
func (ch *recoveringChannel) watch(raw rawChannel) {
	<-raw.NotifyClose(make(chan *amqp.Error, 1))

	ch.mu.Lock()
	stale := ch.closed || ch.raw != raw
	ch.mu.Unlock()
	if stale || ch.conn.recoverable() {
		return
	}
	ch.shutdown()
}

// recover reopens the channel on a recovered connection and re-issues its consumes.
func (ch *recoveringChannel) recover(conn rawConn) error {
	raw, err := conn.channel()
	if err != nil {
		return fmt.Errorf("reopen channel: %w", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		raw.Close()
		return nil
	}
	ch.raw = raw
	go ch.watch(raw)

	if ch.prefetch > 0 {
		if err := raw.Qos(ch.prefetch, 0, false); err != nil {
			return fmt.Errorf("restore qos: %w", err)
		}
	}

	for tag, rec := range ch.consumers {
		in, err := raw.Consume(rec.queue, tag, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("re-consume %s: %w", rec.queue, err)
		}
		rec.start(in)
	}
	return nil
}

package supervisor

import "sync"

// mailbox is an unbounded FIFO with a side stash of deferred messages.
// send is safe from any goroutine; everything else belongs to the worker.
type mailbox struct {
	mu    sync.Mutex
	queue []message
	stash []message

	// notify holds at most one wakeup for the worker.
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) send(msg message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) next() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return msg, true
}

func (m *mailbox) hold(msg message) {
	m.mu.Lock()
	m.stash = append(m.stash, msg)
	m.mu.Unlock()
}

// popStash removes the most recently stashed message.
func (m *mailbox) popStash() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.stash)
	if n == 0 {
		return nil, false
	}
	msg := m.stash[n-1]
	m.stash[n-1] = nil
	m.stash = m.stash[:n-1]
	return msg, true
}

// unstashAll moves the stash, in order, ahead of everything already queued.
func (m *mailbox) unstashAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.stash)
	if n == 0 {
		return 0
	}
	merged := make([]message, 0, n+len(m.queue))
	merged = append(merged, m.stash...)
	merged = append(merged, m.queue...)
	m.queue = merged
	m.stash = nil
	return n
}

func (m *mailbox) depths() (queued, stashed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), len(m.stash)
}

package main

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/rickgao/stream-supervisor/internal/config"
	"github.com/rickgao/stream-supervisor/internal/stream"
)

// consumerSet holds the configured consumers and which of them should
// currently be subscribed.
type consumerSet struct {
	order      []string
	configured map[string]*stream.Consumer
	desired    *xsync.Map[string, *stream.Consumer]
}

func newConsumerSet(cfgs []config.ConsumerConfig) *consumerSet {
	s := &consumerSet{
		configured: make(map[string]*stream.Consumer, len(cfgs)),
		desired:    xsync.NewMap[string, *stream.Consumer](),
	}
	for _, cc := range cfgs {
		c := stream.NewConsumer(cc)
		s.order = append(s.order, cc.ID)
		s.configured[cc.ID] = c
		s.desired.Store(cc.ID, c)
	}
	return s
}

// all returns every configured consumer in declaration order.
func (s *consumerSet) all() []*stream.Consumer {
	out := make([]*stream.Consumer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.configured[id])
	}
	return out
}

// wanted returns the consumer if it should be subscribed.
func (s *consumerSet) wanted(id string) (*stream.Consumer, bool) {
	return s.desired.Load(id)
}

// want marks a configured consumer as desired again.
func (s *consumerSet) want(id string) (*stream.Consumer, bool) {
	c, ok := s.configured[id]
	if !ok {
		return nil, false
	}
	s.desired.Store(id, c)
	return c, true
}

func (s *consumerSet) unwant(id string) {
	s.desired.Delete(id)
}

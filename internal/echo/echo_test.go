package echo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestController() (*Controller, *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(nil)
	c.now = clk.now
	return c, clk
}

func TestController_BeatAndStale(t *testing.T) {
	c, clk := newTestController()

	c.Beat("orders")
	c.Beat("trades")
	clk.advance(time.Minute)
	c.Beat("trades")

	require.Equal(t, []string{"orders"}, c.Stale(30*time.Second))
	require.Empty(t, c.Stale(2*time.Minute))

	last, ok := c.Last("trades")
	require.True(t, ok)
	require.Equal(t, clk.now(), last)

	c.Forget("orders")
	_, ok = c.Last("orders")
	require.False(t, ok)
	require.Equal(t, 1, c.Len())
}

func TestController_ResetAll(t *testing.T) {
	c, clk := newTestController()

	c.Beat("a")
	c.Beat("b")
	clk.advance(time.Hour)
	require.Equal(t, []string{"a", "b"}, c.Stale(time.Minute))

	c.ResetAll()
	require.Empty(t, c.Stale(time.Minute))
	require.Equal(t, 2, c.Len())
}

func TestController_ConcurrentBeats(t *testing.T) {
	c := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Beat("shared")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, c.Len())
}

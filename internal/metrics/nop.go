package metrics

// Nop implements a no-op metrics collector.
type Nop struct{}

// NewNop creates a collector that discards all metrics.
func NewNop() *Nop {
	return &Nop{}
}

// SetMode discards the mode.
func (n *Nop) SetMode(_ string) {}

// ConnectAttempt discards the attempt.
func (n *Nop) ConnectAttempt(_ bool) {}

// Admission discards the admission result.
func (n *Nop) Admission(_ string) {}

// ForcedReconnect discards the reconnect.
func (n *Nop) ForcedReconnect(_ string) {}

// SetStashDepth discards the depth.
func (n *Nop) SetStashDepth(_ int) {}

// Delivery discards the delivery outcome.
func (n *Nop) Delivery(_ /* consumer */, _ /* result */ string) {}

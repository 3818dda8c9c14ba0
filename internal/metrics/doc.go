// Package metrics provides supervisor and stream metrics.
//
// Two collectors are available:
//   - Nop discards everything and is the default
//   - Prometheus registers collectors lazily on first use
//
// Key metrics:
//   - Supervisor mode and stash depth
//   - Connection attempts by result
//   - Admission outcomes and forced reconnects
//   - Stream deliveries by result
package metrics

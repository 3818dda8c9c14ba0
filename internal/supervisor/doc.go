// Package supervisor implements the Connection Supervisor component.
//
// The Connection Supervisor:
//   - Owns the single broker connection and its single channel
//   - Runs every event through one mailbox drained by one goroutine
//   - Admits consumers with per-consumer retry and a global failure budget
//   - Defers requests that arrive during recovery and replays them in order
//   - Reconciles believed and actual connection state on a periodic tick
package supervisor

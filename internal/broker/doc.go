// Package broker adapts RabbitMQ (AMQP 0-9-1) to the narrow connection and channel
// handles the supervisor manages.
//
// The package:
//   - Builds connection parameters from consumer-supplied queue details
//   - Dials connections whose identity is stable for the life of the handle
//   - Optionally recovers a lost connection in the background, reopening its
//     channels and re-issuing their consumes (broker-level auto-recovery)
//   - Reports every broker-initiated close to registered shutdown listeners
package broker

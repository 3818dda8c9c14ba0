// Package stream consumes a queue on behalf of one consumer.
//
// A Subscriber shares the supervisor's channel: StartConsuming registers a
// consumer tag on it and a goroutine decodes each delivery as an Envelope,
// hands it to the Handler, and acknowledges the outcome.
//
// Delivery outcomes:
//   - Handler success: ack
//   - Handler error: nack with requeue
//   - Undecodable body: nack without requeue
package stream

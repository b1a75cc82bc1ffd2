// Package event defines the sensor event stream consumed by the correlator.
//
// Every producer - real hardware driver, simulated sensor, or scripted
// replay feed - normalizes its readings into the same tagged Event shape
// and appends them to a single intake Queue. The correlator is the only
// consumer; the queue is the one point of synchronization in the system.
//
// Events carry two notions of time:
//
//   - At: the sensor timestamp, monotonic per producer. Used for matching
//     scans against weight deltas and for expiry.
//   - Seq: a logical intake sequence stamped by the queue. Used for total
//     ordering and deterministic replay - wall clocks are never used to
//     order events.
package event

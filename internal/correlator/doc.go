// Package correlator pairs scan events with weight deltas and turns them
// into committed cart transactions.
//
// ARCHITECTURE:
//
// Single-Consumer Event Loop:
// All sensor producers append to one intake queue; the correlator's Run
// loop is the only consumer. Every mutation of the weight baseline, the
// scan buffer, and the cart ledger happens on that one goroutine, so no
// fine-grained locking exists anywhere in the decision path.
//
// Event Processing Flow:
//  1. Producers emit weight samples, weight deltas, scans, and ticks.
//  2. Run() dequeues one event at a time, in intake order.
//  3. Raw samples feed the weight tracker; a settled change becomes a
//     delta handled in the same step.
//  4. A positive delta is matched against pending scans; a negative one
//     against the ledger. Ticks sweep expired scans and check drift.
//  5. Each decision commits exactly one immutable transaction, which
//     goes to the ledger and then, fire-and-forget, to the notifier.
//
// Housekeeping runs as tick events on the same loop, interleaved between
// event dequeues, never concurrently with event handling.
//
// Determinism: decisions depend only on event order and payloads.
// Matching ties break earliest-arrival-first, commit seq comes from a
// logical clock, and wall time is never consulted. Replaying the same
// intake sequence yields the identical transaction sequence.
//
// Evidence is never thrown away: every dequeued scan or delta results in
// exactly one transaction or one retained pending scan. The only thing
// silently discarded is scale noise below the jitter band, which the
// tracker absorbs before a delta ever exists.
package correlator

// Package pubqueue implements the publishing queue engine: a priority-ordered,
// retrying, rate-limited dispatcher for content destined to multiple platforms.
//
// The engine is an in-process library. Callers construct an Engine with New,
// enqueue items, and poll item state; the actual platform network call is an
// injected Adapter. The queue is volatile process memory by design: there is
// no durable log and no cross-instance coordination.
package pubqueue

// Package events provides an in-memory fan-out broker used for
// observability, not control flow.
//
// Each function manager publishes ManagerEvents
// whenever a manager crosses a state-machine transition (spec.md §4.3).
// Nothing in the control plane's correctness depends on a subscriber
// actually receiving an event — the broker drops events for subscribers
// whose buffer is full rather than applying backpressure, so it must
// never be used to carry state a manager depends on to make a decision.
package events

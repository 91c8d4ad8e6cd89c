// Package storage persists the function registry in a single bbolt file.
//
// BoltStore keeps one bucket, "functions", keyed by function name with
// JSON-encoded types.Function values. Reads use db.View for concurrent
// snapshot access; writes use db.Update for serialized, fsync'd commits.
// Create and Update both upsert except CreateFunction, which rejects an
// existing name with clerr.Conflict so the controller API can distinguish
// POST /create_function from a re-registration.
//
// This is new relative to the original controller-agent, which held the
// function table purely in memory: spec.md §4.2 requires a restarted
// controller to rediscover the functions it manages rather than orphan
// their replicas.
package storage

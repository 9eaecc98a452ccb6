// Package coordinator owns the canonical device state and reconciles
// it across the HTTP inventory and the MQTT telemetry stream.
//
// It maintains the Group map seeded by inventory snapshots, merges
// telemetry frames into it, derives per-target online status from
// presence signals and traffic freshness, issues causally-ordered
// command timestamps per target, and debounces change notifications
// so subscribers see at most one callback per window without ever
// missing the final state.
//
// All mutation is serialized through a single mutex. Delayed work
// (priming queries, the split DP0 publish, the debounce window) runs
// on cancellable timers whose callbacks re-check their preconditions
// under the mutex before acting.
package coordinator

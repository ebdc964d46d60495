// Package service implements host reconciliation for nictopo.
//
// It sits between the source adapters, which report observations, and the
// report sinks, which persist what a run found.
//
// # Engine
//
// Engine reconciles hosts in parallel, bounded by a worker limit. For each
// host it runs the selected adapters concurrently, merges their results
// into a fresh port registry from a single loop, runs the registry's one
// retry pass and then applies the derivation passes in order:
//
//   - ResolveSiblings names passthrough ports from a named function on the
//     same device
//   - CalculateVectors computes the expected SR-IOV VF and trust vectors
//   - AssignNUMA maps bus numbers to NUMA nodes through a threshold table
//
// Passes are pure functions from a registry snapshot to observations, which
// are merged back under the source tag "derived".
//
// # Checker
//
// Checker evaluates declarative rules against the reconciled host and
// produces anomaly records. Adapter failures surface as info anomalies so a
// report always says what it could not see.
//
// # Credentials and events
//
// CredentialStore resolves adapter credentials from mounted secret files,
// environment variables and config references. EventBus publishes run
// progress to subscribers without ever blocking the engine.
package service

// Package harness runs scripted multi-replica scenarios end to end.
//
// Every replica in a scenario is a full stack: in-memory SQLite store,
// compactor, syncer and HTTP server on a real loopback listener. Replicas
// sync with each other through the same HTTP client production uses, so a
// scenario exercises the whole protocol.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: counter_convergence
//	description: "What this scenario validates"
//	replicas:              # optional; defaults to a (client 1) and b (client 2)
//	  a: { client_id: 1 }
//	  b: { client_id: 2, compact_peer: always }
//	steps:
//	  - { on: a, do: init }
//	  - { on: a, do: add_count, expect: { count: 2 } }
//	  - { on: a, do: sync, expect: { outcome: ok, pushed: true } }
//	  - { on: b, do: offline }
//	  - { on: a, do: sync, expect: { outcome: PeerUnavailable } }
//	assertions:
//	  - type: converged
//	  - { type: count, replica: b, equals: 2 }
//	  - { type: pending, replica: a, equals: 0 }
//
// # Operations
//
//   - init: reset the document to its seed state
//   - add_count: increment root.count; result {count}
//   - snapshot: read the document; result {found, count, items}
//   - sync: one round with the peer; result {pulled, pushed, peer_compacted}
//   - compact: fold the log; result {applied}
//   - offline / online: make the replica unreachable to its peers, or not
//
// A failing operation is not a harness error: its failure kind becomes the
// step's outcome.
//
// # Assertion Types
//
//   - converged: replicas hold byte-identical canonical documents
//   - count: root.count of a replica
//   - pending: un-compacted log entries of a replica
//   - trace_count: an op ran exactly N times
//   - trace_order: ops first appear in the given order
//
// # Deterministic Testing
//
// Client ids are fixed by the scenario and store timestamps come from
// testutil.DeterministicClock, so a scenario yields the same trace on every
// run. Traces render as canonical JSON for golden file comparison.
package harness

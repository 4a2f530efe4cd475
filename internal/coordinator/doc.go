// Package coordinator implements the control plane for a distributed
// Pollard-kangaroo ECDLP search: the single authority over the search's
// configured range, its durable distinguished-point table, its
// work-distribution ledger, and the frozen solution once one is found.
//
// # Architecture
//
//	┌───────────────────────────────────┐
//	│           COORDINATOR             │
//	├───────────────────────────────────┤
//	│  ┌─────────────────────────────┐  │
//	│  │  State cell                 │  │
//	│  │  - search range, pubkey     │  │
//	│  │  - solved / solution        │  │
//	│  └─────────────────────────────┘  │
//	│  ┌─────────────────────────────┐  │
//	│  │  DP store                   │  │
//	│  │  - x-coord → distance/type  │  │
//	│  │  - DP-UNIQ enforcement      │  │
//	│  └─────────────────────────────┘  │
//	│  ┌─────────────────────────────┐  │
//	│  │  Work ledger                │  │
//	│  │  - chunk lifecycle          │  │
//	│  │  - FIFO claim_next          │  │
//	│  └─────────────────────────────┘  │
//	│  ┌─────────────────────────────┐  │
//	│  │  Resolver (stateless)       │  │
//	│  │  - collision solvability    │  │
//	│  │  - scalar recovery          │  │
//	│  └─────────────────────────────┘  │
//	└───────────────────────────────────┘
//
// A single mutex serializes Configure, GetWork, and SubmitPoints; Status
// takes the same mutex and returns a point-in-time snapshot. There is no
// finer-grained locking — the mutex is the sole linearization point for
// all three tables.
//
// The resolver is handed an immutable SearchContext on every call rather
// than a pointer back into the coordinator, so collision math never shares
// mutable state with the component that owns the mutex.
package coordinator

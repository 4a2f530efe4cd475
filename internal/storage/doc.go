// Package storage defines the abstract key-value interface shared by the
// DP store, work ledger, and state cell, plus the two concrete backends
// the coordinator can run against.
//
// # Overview
//
// Every persistent table the coordinator owns — distinguished points,
// work chunks, and the search-state singleton — is implemented on top of
// the same narrow Store interface, distinguished only by key prefix
// (dp:, work:, state:) inside one logical keyspace: one pluggable
// key-value abstraction backing all three tables rather than a separate
// storage engine per table.
//
// # Implementations
//
//   - MemoryStore: an in-memory map guarded by sync.RWMutex. No
//     durability, no transactional Update — internal/dpstore falls back to
//     a package-level mutex and internal/workledger to a per-Ledger mutex
//     for linearizability when running over this backend. Used for tests
//     and for `--db=:memory:`.
//   - BuntStore: wraps github.com/tidwall/buntdb, giving single-writer,
//     fsync'd durability and a transactional Update (plus a read-only
//     View) that dpstore's lookup-then-insert and workledger's claim_next
//     use to get
//     DP-UNIQ and exclusive assignment without any locking of their own.
//
// # Concurrency
//
// Store implementations must be safe for concurrent use, but the
// interface's Get/Put/Delete alone cannot express an atomic
// read-modify-write. Callers that need one (DP-UNIQ enforcement, FIFO
// chunk claiming) type-assert for the optional Update method BuntStore
// exposes; MemoryStore callers serialize through their own mutex instead.
// The coordinator is the only writer regardless of backend, so all of
// this synchronization exists for safety under the storage layer's own
// transaction boundaries, not to arbitrate between multiple writers.
package storage

// Package requests owns all SQLite persistence for the daemon: the request
// lifecycle table and its state machine, per-request download history, the
// recurring trigger definitions, and the durable job ledger mirroring the
// broker.
//
// The store serializes writers through small busy-retry wrappers rather than
// a mutex; SQLite's WAL mode plus busy_timeout handles cross-process access.
package requests

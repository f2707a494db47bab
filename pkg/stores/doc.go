// Package stores provides the persistence layer for durastep.
//
// SQLiteStore keeps the aggregate event log, workflow snapshots, transition
// history and the audit trail in SQLite (WAL mode, embedded migrations).
// MemoryStore implements the same interface in process memory.
//
// Both guarantee what the runtime relies on: event sequence numbers per
// aggregate are gap-free and unique, and a workflow snapshot changes only
// when the caller presents its current version.
package stores

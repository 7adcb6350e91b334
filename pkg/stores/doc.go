// Package stores provides the persistence backends of the parity runner.
//
// SQLiteStore is the session registry: sessions and their ordered execution
// lists in SQLite (WAL mode, embedded golang-migrate migrations), with FIFO
// eviction applied transactionally. FileProgressStore and
// ObjectProgressStore implement engine.ProgressStore on a local directory
// and on an S3-compatible bucket.
package stores

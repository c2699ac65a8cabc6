// Package tdb is an embedded, single-file document database: paged
// storage, disk B+tree secondary indexes, a write-ahead log, and
// transactions with buffered-op commit/rollback and savepoints.
package tdb

// Package wal implements write-ahead logging for durability and crash recovery.
package wal

import "errors"

var (
	// ErrCorrupt indicates a record whose checksum does not match its bytes.
	ErrCorrupt = errors.New("wal: corrupted record")

	// ErrTruncated indicates a record cut short, typically the tail of the
	// last segment after an unclean shutdown.
	ErrTruncated = errors.New("wal: truncated record")

	// ErrClosed indicates an operation on a closed WAL.
	ErrClosed = errors.New("wal: closed")
)

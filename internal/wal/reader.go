// ABOUTME: Sequential segment reading, tolerant of a truncated final record

package wal

import (
	"errors"
	"fmt"
	"os"
)

// ReadSegment reads every well-formed record from a segment file in order.
// The first truncated or corrupt record (the expected shape of an unclean
// shutdown mid-write) ends the scan without error; records after it are
// ignored. Any other decode error is reported.
func ReadSegment(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wal: read segment: %w", err)
	}

	var records []Record
	off := 0
	for off < len(data) {
		rec, n, err := DecodeRecord(data[off:])
		if err != nil {
			if errors.Is(err, ErrCorrupt) || errors.Is(err, ErrTruncated) {
				break
			}
			return records, fmt.Errorf("wal: corrupt record at offset %d: %w", off, err)
		}
		records = append(records, rec)
		off += n
	}
	return records, nil
}

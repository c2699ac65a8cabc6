// ABOUTME: WAL record framing: length-prefixed, CRC32-protected entries
// ABOUTME: kinds are page_image, commit, abort, and checkpoint

package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Kind identifies what a Record represents.
type Kind byte

const (
	KindPageImage  Kind = 1
	KindCommit     Kind = 2
	KindAbort      Kind = 3
	KindCheckpoint Kind = 4
)

// recordHeaderSize is the minimum valid value of the length field itself:
// kind(1) + lsn(8) + txn_id(8) + crc32(4), i.e. an empty-bodied record.
const recordHeaderSize = 21

// Record is one WAL entry:
//
//	u32 length | u8 kind | u64 lsn | u64 txn_id | kind-specific body | u32 crc32
//
// length covers everything after itself, including the trailing checksum.
type Record struct {
	Kind  Kind
	LSN   uint64
	TxnID uint64

	// PageImage body (KindPageImage)
	PageID uint32
	Before []byte // pre-mutation page bytes; nil on a page's first write
	After  []byte // post-mutation page bytes

	// Checkpoint body (KindCheckpoint)
	CheckpointLSN uint64
}

// Encode serializes the record with its length prefix and checksum.
func (r Record) Encode() []byte {
	body := r.encodeBody()
	length := 1 + 8 + 8 + len(body) + 4 // kind + lsn + txnid + body + crc32

	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(r.Kind)
	binary.LittleEndian.PutUint64(buf[5:13], r.LSN)
	binary.LittleEndian.PutUint64(buf[13:21], r.TxnID)
	copy(buf[21:], body)

	crc := crc32.ChecksumIEEE(buf[:21+len(body)])
	binary.LittleEndian.PutUint32(buf[21+len(body):], crc)
	return buf
}

func (r Record) encodeBody() []byte {
	switch r.Kind {
	case KindPageImage:
		body := make([]byte, 4+4+len(r.Before)+4+len(r.After))
		off := 0
		binary.LittleEndian.PutUint32(body[off:], r.PageID)
		off += 4
		binary.LittleEndian.PutUint32(body[off:], uint32(len(r.Before)))
		off += 4
		off += copy(body[off:], r.Before)
		binary.LittleEndian.PutUint32(body[off:], uint32(len(r.After)))
		off += 4
		copy(body[off:], r.After)
		return body
	case KindCheckpoint:
		body := make([]byte, 8)
		binary.LittleEndian.PutUint64(body, r.CheckpointLSN)
		return body
	case KindCommit, KindAbort:
		return nil
	default:
		return nil
	}
}

// DecodeRecord parses one record starting at b[0], returning the number of
// bytes consumed. It returns ErrCorrupt if the checksum does not match,
// which callers treat as "WAL ends here" during recovery.
func DecodeRecord(b []byte) (Record, int, error) {
	if len(b) < 4 {
		return Record{}, 0, ErrTruncated
	}
	length := int(binary.LittleEndian.Uint32(b))
	total := 4 + length
	if length < recordHeaderSize || total > len(b) {
		return Record{}, 0, ErrTruncated
	}

	frame := b[:total]
	payload := frame[4:]
	storedCRC := binary.LittleEndian.Uint32(payload[len(payload)-4:])
	computedCRC := crc32.ChecksumIEEE(payload[:len(payload)-4])
	if storedCRC != computedCRC {
		return Record{}, 0, ErrCorrupt
	}

	r := Record{
		Kind:  Kind(payload[0]),
		LSN:   binary.LittleEndian.Uint64(payload[1:9]),
		TxnID: binary.LittleEndian.Uint64(payload[9:17]),
	}
	body := payload[17 : len(payload)-4]

	switch r.Kind {
	case KindPageImage:
		if len(body) < 8 {
			return Record{}, 0, ErrTruncated
		}
		r.PageID = binary.LittleEndian.Uint32(body[0:4])
		off := 4
		beforeLen := int(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		if off+beforeLen+4 > len(body) {
			return Record{}, 0, ErrTruncated
		}
		if beforeLen > 0 {
			r.Before = append([]byte{}, body[off:off+beforeLen]...)
		}
		off += beforeLen
		afterLen := int(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		if off+afterLen > len(body) {
			return Record{}, 0, ErrTruncated
		}
		r.After = append([]byte{}, body[off:off+afterLen]...)
	case KindCheckpoint:
		if len(body) < 8 {
			return Record{}, 0, ErrTruncated
		}
		r.CheckpointLSN = binary.LittleEndian.Uint64(body)
	case KindCommit, KindAbort:
		// no body
	default:
		return Record{}, 0, fmt.Errorf("wal: unknown record kind %d", r.Kind)
	}

	return r, total, nil
}

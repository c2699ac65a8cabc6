// ABOUTME: The database's page-0 header: magic, page size, and checksum
// ABOUTME: written once at creation, re-verified on every open

package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Magic is the 4-byte signature stamped at the start of every tdb file.
var Magic = [4]byte{0x54, 0x44, 0x42, 0x01} // "TDB\x01"

// FileHeaderSize is the fixed size of the page-0 header structure.
const FileHeaderSize = 80

// ValidPageSizes enumerates the page sizes the format supports.
var ValidPageSizes = []int{4096, 8192, 16384, 32768}

// FileHeader is the layout of page 0:
//
//	0-3    magic          [4]byte
//	4-7    version        u32
//	8-11   page_size      u32
//	12-15  total_pages    u32
//	16-19  used_pages     u32
//	20-51  db_name        [32]byte, NUL-padded
//	52-59  created_at     u64 (unix millis)
//	60-67  modified_at    u64 (unix millis)
//	68-71  checksum       u32 (CRC32 over bytes 0..67)
//	72-75  free_list_head u32 (page id, 0 = empty)
//	76-79  reserved
type FileHeader struct {
	Version      uint32
	PageSize     uint32
	TotalPages   uint32
	UsedPages    uint32
	DBName       string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	FreeListHead uint32
}

// IsValidPageSize reports whether n is one of the supported page sizes.
func IsValidPageSize(n int) bool {
	for _, v := range ValidPageSizes {
		if v == n {
			return true
		}
	}
	return false
}

// EncodeFileHeader serializes h into a FileHeaderSize-byte buffer with a
// freshly computed checksum.
func EncodeFileHeader(h FileHeader) []byte {
	b := make([]byte, FileHeaderSize)
	copy(b[0:4], Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.PageSize)
	binary.LittleEndian.PutUint32(b[12:16], h.TotalPages)
	binary.LittleEndian.PutUint32(b[16:20], h.UsedPages)

	name := []byte(h.DBName)
	if len(name) > 32 {
		name = name[:32]
	}
	copy(b[20:52], name)

	binary.LittleEndian.PutUint64(b[52:60], uint64(h.CreatedAt.UnixMilli()))
	binary.LittleEndian.PutUint64(b[60:68], uint64(h.ModifiedAt.UnixMilli()))

	sum := crc32.ChecksumIEEE(b[0:68])
	binary.LittleEndian.PutUint32(b[68:72], sum)
	binary.LittleEndian.PutUint32(b[72:76], h.FreeListHead)
	return b
}

// DecodeFileHeader parses and validates page 0, checking the magic bytes
// and the CRC32 checksum before returning.
func DecodeFileHeader(b []byte) (FileHeader, error) {
	if len(b) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("page: file header buffer too short (%d bytes)", len(b))
	}
	if string(b[0:4]) != string(Magic[:]) {
		return FileHeader{}, fmt.Errorf("page: bad magic bytes, not a tdb file")
	}

	wantSum := binary.LittleEndian.Uint32(b[68:72])
	gotSum := crc32.ChecksumIEEE(b[0:68])
	if wantSum != gotSum {
		return FileHeader{}, fmt.Errorf("page: header checksum mismatch (file corrupt): want %08x, got %08x", wantSum, gotSum)
	}

	name := b[20:52]
	end := 32
	for i, c := range name {
		if c == 0 {
			end = i
			break
		}
	}

	return FileHeader{
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		PageSize:     binary.LittleEndian.Uint32(b[8:12]),
		TotalPages:   binary.LittleEndian.Uint32(b[12:16]),
		UsedPages:    binary.LittleEndian.Uint32(b[16:20]),
		DBName:       string(name[:end]),
		CreatedAt:    time.UnixMilli(int64(binary.LittleEndian.Uint64(b[52:60]))).UTC(),
		ModifiedAt:   time.UnixMilli(int64(binary.LittleEndian.Uint64(b[60:68]))).UTC(),
		FreeListHead: binary.LittleEndian.Uint32(b[72:76]),
	}, nil
}

// ABOUTME: Slotted data page: a directory of (offset,length,flags) slots
// ABOUTME: plus a data region growing forward; deleted slots are reused best-fit, compacted on demand

package storage

import (
	"encoding/binary"

	"github.com/klauspost/compress/snappy"

	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/tdberr"
)

const (
	slotDirEntrySize = 8 // dataOffset u16, dataLength u16, flags u8, capacity u16, pad u8
	slotActive       = 1
	slotDeleted      = 0
	slotCompressed   = 1 << 1
)

// RecordID locates one document within the data-page chain.
type RecordID struct {
	PageID uint32
	Slot   uint16
}

func (r RecordID) Encode() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint32(b[0:4], r.PageID)
	binary.LittleEndian.PutUint16(b[4:6], r.Slot)
	return b
}

func DecodeRecordID(b []byte) (RecordID, error) {
	if len(b) < 6 {
		return RecordID{}, tdberr.New(tdberr.Corruption, "truncated record id")
	}
	return RecordID{PageID: binary.LittleEndian.Uint32(b[0:4]), Slot: binary.LittleEndian.Uint16(b[4:6])}, nil
}

// dataPage is a view over a TypeData page's payload:
//
//	[0:2]   slotCount u16
//	[2:4]   freeOffset u16 (relative to start of data region)
//	slot directory: slotCount * slotDirEntrySize bytes
//	data region: starts right after the directory
type dataPage struct {
	buf []byte
}

func wrapDataPage(p *page.Page) dataPage { return dataPage{buf: p.Payload()} }

func (d dataPage) slotCount() uint16    { return binary.LittleEndian.Uint16(d.buf[0:2]) }
func (d dataPage) setSlotCount(n uint16) { binary.LittleEndian.PutUint16(d.buf[0:2], n) }
func (d dataPage) freeOffset() uint16   { return binary.LittleEndian.Uint16(d.buf[2:4]) }
func (d dataPage) setFreeOffset(n uint16) { binary.LittleEndian.PutUint16(d.buf[2:4], n) }

func (d dataPage) dirStart() int   { return 4 }
func (d dataPage) dataStart() int  { return d.dirStart() + int(d.slotCount())*slotDirEntrySize }
func (d dataPage) slotAt(i uint16) int { return d.dirStart() + int(i)*slotDirEntrySize }

func (d dataPage) slotOffset(i uint16) uint16 {
	s := d.slotAt(i)
	return binary.LittleEndian.Uint16(d.buf[s : s+2])
}
func (d dataPage) slotLength(i uint16) uint16 {
	s := d.slotAt(i)
	return binary.LittleEndian.Uint16(d.buf[s+2 : s+4])
}
func (d dataPage) slotFlags(i uint16) byte { return d.buf[d.slotAt(i)+4] }
func (d dataPage) slotCapacity(i uint16) uint16 {
	s := d.slotAt(i)
	return binary.LittleEndian.Uint16(d.buf[s+5 : s+7])
}

func (d dataPage) setSlot(i uint16, offset, length uint16, flags byte, capacity uint16) {
	s := d.slotAt(i)
	binary.LittleEndian.PutUint16(d.buf[s:s+2], offset)
	binary.LittleEndian.PutUint16(d.buf[s+2:s+4], length)
	d.buf[s+4] = flags
	binary.LittleEndian.PutUint16(d.buf[s+5:s+7], capacity)
}

func (d dataPage) slotBytes(i uint16) []byte {
	off := int(d.dataStart()) + int(d.slotOffset(i))
	return d.buf[off : off+int(d.slotLength(i))]
}

// freeSpace is the room left between the end of the slot directory and the
// end of the page, accounting for the data already appended at freeOffset.
// Adding one more slot directory entry costs slotDirEntrySize bytes too, so
// growing the directory is charged against the same budget.
func (d dataPage) freeSpace() int {
	return len(d.buf) - d.dataStart() - int(d.freeOffset())
}

const compressMinSize = 256

func compressIfWorthwhile(data []byte) ([]byte, bool) {
	if len(data) < compressMinSize {
		return data, false
	}
	c := snappy.Encode(nil, data)
	if len(c) >= len(data) {
		return data, false
	}
	return c, true
}

func decompressIfFlagged(data []byte, flags byte) ([]byte, error) {
	if flags&slotCompressed == 0 {
		return data, nil
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, tdberr.Wrap(tdberr.Corruption, "decompress slot", err)
	}
	return out, nil
}

// put inserts data as a new slot, reusing a deleted slot whose capacity is
// big enough (best-fit among tombstones) before growing the directory.
func (d dataPage) put(data []byte) (uint16, bool) {
	stored, compressed := compressIfWorthwhile(data)
	flags := byte(slotActive)
	if compressed {
		flags |= slotCompressed
	}

	best := uint16(0)
	bestCap := -1
	n := d.slotCount()
	for i := uint16(0); i < n; i++ {
		if d.slotFlags(i) != slotDeleted {
			continue
		}
		cap := int(d.slotCapacity(i))
		if cap >= len(stored) && (bestCap == -1 || cap < bestCap) {
			best = i
			bestCap = cap
		}
	}
	if bestCap != -1 {
		off := d.slotOffset(best)
		copy(d.buf[int(d.dataStart())+int(off):], stored)
		d.setSlot(best, off, uint16(len(stored)), flags, uint16(bestCap))
		return best, true
	}

	needed := slotDirEntrySize + len(stored)
	if d.freeSpace() < needed {
		return 0, false
	}
	idx := n
	off := d.freeOffset()
	// Growing the directory by one entry moves the data region forward by
	// slotDirEntrySize bytes; existing data moves with it so every slot's
	// offset, relative to the data region, stays valid.
	start := int(d.dataStart())
	copy(d.buf[start+slotDirEntrySize:], d.buf[start:start+int(off)])
	d.setSlotCount(n + 1)
	copy(d.buf[int(d.dataStart())+int(off):], stored)
	d.setSlot(idx, off, uint16(len(stored)), flags, uint16(len(stored)))
	d.setFreeOffset(off + uint16(len(stored)))
	return idx, true
}

// update overwrites an existing slot in place if the new value fits its
// original capacity, otherwise the caller must delete+put (reassigning the
// RecordID's slot) since capacity never shrinks without a compaction.
func (d dataPage) update(idx uint16, data []byte) bool {
	stored, compressed := compressIfWorthwhile(data)
	if uint16(len(stored)) > d.slotCapacity(idx) {
		return false
	}
	flags := byte(slotActive)
	if compressed {
		flags |= slotCompressed
	}
	off := d.slotOffset(idx)
	copy(d.buf[int(d.dataStart())+int(off):], stored)
	d.setSlot(idx, off, uint16(len(stored)), flags, d.slotCapacity(idx))
	return true
}

func (d dataPage) get(idx uint16) ([]byte, bool, error) {
	if idx >= d.slotCount() || d.slotFlags(idx) == slotDeleted {
		return nil, false, nil
	}
	raw := d.slotBytes(idx)
	out, err := decompressIfFlagged(raw, d.slotFlags(idx))
	if err != nil {
		return nil, false, err
	}
	return append([]byte{}, out...), true, nil
}

func (d dataPage) delete(idx uint16) {
	if idx >= d.slotCount() {
		return
	}
	d.setSlot(idx, d.slotOffset(idx), 0, slotDeleted, d.slotCapacity(idx))
}

// compact rewrites the data region with no gaps, preserving slot indices
// (RecordIDs elsewhere keep pointing at the same slot) and resetting each
// surviving slot's capacity down to its actual length.
func (d dataPage) compact() {
	n := d.slotCount()
	offsets := make([]uint16, n)
	lengths := make([]uint16, n)
	flagsArr := make([]byte, n)
	bytesOut := make([][]byte, n)
	var cursor uint16
	for i := uint16(0); i < n; i++ {
		if d.slotFlags(i) == slotDeleted {
			continue
		}
		b := append([]byte{}, d.slotBytes(i)...)
		bytesOut[i] = b
		offsets[i] = cursor
		lengths[i] = uint16(len(b))
		flagsArr[i] = d.slotFlags(i)
		cursor += uint16(len(b))
	}
	for i := uint16(0); i < n; i++ {
		if bytesOut[i] == nil {
			d.setSlot(i, 0, 0, slotDeleted, 0)
			continue
		}
		copy(d.buf[int(d.dataStart())+int(offsets[i]):], bytesOut[i])
		d.setSlot(i, offsets[i], lengths[i], flagsArr[i], lengths[i])
	}
	d.setFreeOffset(cursor)
}

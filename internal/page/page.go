// ABOUTME: Fixed-size page layout: a 32-byte header plus payload
// ABOUTME: every on-disk structure (B+tree nodes, data pages, WAL images) is one page

package page

import "encoding/binary"

// Type identifies the role a page plays.
type Type byte

const (
	TypeHeader     Type = 0
	TypeCollection Type = 1 // catalog entry for a named collection
	TypeData       Type = 2 // document storage, slotted
	TypeIndex      Type = 3 // B+tree node (internal or leaf)
	TypeJournal    Type = 4 // WAL segment page, when memory-mapped
	TypeExtension  Type = 5 // overflow storage for oversized values
	TypeEmpty      Type = 6 // on the free list, contents undefined
)

// Flag bits live in the header's flags byte.
const (
	FlagLeaf    byte = 1 << 0 // B+tree leaf node (vs internal)
	FlagDirty   byte = 1 << 1 // in-memory only: not yet flushed
	FlagOverflow byte = 1 << 2 // payload continues in an extension page
)

// HeaderSize is the fixed size of every page header.
const HeaderSize = 32

// Header is the 32-byte structure at the front of every page:
//
//	0      type          u8
//	1      flags         u8
//	2-3    slot_count     u16
//	4-7    page_id        u32
//	8-11   next           u32
//	12-15  prev           u32
//	16-19  parent         u32
//	20-21  free_offset    u16
//	22-23  payload_size   u16
//	24-31  reserved       8 bytes
type Header struct {
	Type        Type
	Flags       byte
	SlotCount   uint16
	PageID      uint32
	Next        uint32
	Prev        uint32
	Parent      uint32
	FreeOffset  uint16
	PayloadSize uint16
}

// Page is one fixed-size page: header plus the remaining bytes as payload.
// Size is the on-disk page size (one of 4096, 8192, 16384, 32768); callers
// construct Page with a buffer of exactly that length.
type Page struct {
	buf []byte
}

// New allocates a zeroed page of the given size (including its header) and
// stamps in the header fields.
func New(size int, h Header) *Page {
	p := &Page{buf: make([]byte, size)}
	p.SetHeader(h)
	return p
}

// Wrap adapts an existing buffer (e.g. read from disk) as a Page without
// copying. The buffer must be exactly one page long.
func Wrap(buf []byte) *Page { return &Page{buf: buf} }

// Bytes returns the full page buffer, header included.
func (p *Page) Bytes() []byte { return p.buf }

// Size returns the page's total size in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Payload returns the mutable slice after the header.
func (p *Page) Payload() []byte { return p.buf[HeaderSize:] }

// Header decodes the 32-byte header.
func (p *Page) Header() Header {
	b := p.buf
	return Header{
		Type:        Type(b[0]),
		Flags:       b[1],
		SlotCount:   binary.LittleEndian.Uint16(b[2:4]),
		PageID:      binary.LittleEndian.Uint32(b[4:8]),
		Next:        binary.LittleEndian.Uint32(b[8:12]),
		Prev:        binary.LittleEndian.Uint32(b[12:16]),
		Parent:      binary.LittleEndian.Uint32(b[16:20]),
		FreeOffset:  binary.LittleEndian.Uint16(b[20:22]),
		PayloadSize: binary.LittleEndian.Uint16(b[22:24]),
	}
}

// SetHeader overwrites the 32-byte header in place.
func (p *Page) SetHeader(h Header) {
	b := p.buf
	b[0] = byte(h.Type)
	b[1] = h.Flags
	binary.LittleEndian.PutUint16(b[2:4], h.SlotCount)
	binary.LittleEndian.PutUint32(b[4:8], h.PageID)
	binary.LittleEndian.PutUint32(b[8:12], h.Next)
	binary.LittleEndian.PutUint32(b[12:16], h.Prev)
	binary.LittleEndian.PutUint32(b[16:20], h.Parent)
	binary.LittleEndian.PutUint16(b[20:22], h.FreeOffset)
	binary.LittleEndian.PutUint16(b[22:24], h.PayloadSize)
}

func (p *Page) PageID() uint32 { return binary.LittleEndian.Uint32(p.buf[4:8]) }
func (p *Page) SetPageID(id uint32) {
	binary.LittleEndian.PutUint32(p.buf[4:8], id)
}

func (p *Page) Type() Type { return Type(p.buf[0]) }

func (p *Page) HasFlag(f byte) bool { return p.buf[1]&f != 0 }
func (p *Page) SetFlag(f byte) {
	p.buf[1] |= f
}
func (p *Page) ClearFlag(f byte) {
	p.buf[1] &^= f
}

// Clone returns an independent copy of the page's bytes, used to take a
// before-image for the write-ahead log prior to an in-place mutation.
func (p *Page) Clone() *Page {
	cp := make([]byte, len(p.buf))
	copy(cp, p.buf)
	return &Page{buf: cp}
}

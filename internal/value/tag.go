// ABOUTME: Type tags for the binary value model
// ABOUTME: One byte per variant, ordered per the encoding table

package value

// Tag identifies the variant a Value holds. The numeric values match the
// on-disk document encoding (§6.1 of the design) exactly; they are not an
// internal convenience, they are the wire format.
type Tag byte

const (
	TagDouble     Tag = 0x01
	TagString     Tag = 0x02
	TagDocument   Tag = 0x03
	TagArray      Tag = 0x04
	TagBinary     Tag = 0x05
	TagObjectID   Tag = 0x07
	TagBool       Tag = 0x08
	TagDateTime   Tag = 0x09
	TagNull       Tag = 0x0A
	TagRegex      Tag = 0x0B
	TagInt32      Tag = 0x10
	TagTimestamp  Tag = 0x11
	TagInt64      Tag = 0x12
	TagDecimal128 Tag = 0x13
	TagMinKey     Tag = 0xFF
	TagMaxKey     Tag = 0x7F
)

// sortRank defines cross-type ordering (§3.1): MinKey sorts before
// everything, MaxKey after everything, Null before numerics, and so on.
// Ties within a numeric family are broken by numeric comparison, not tag.
var sortRank = map[Tag]int{
	TagMinKey:     0,
	TagNull:       1,
	TagDouble:     2,
	TagInt32:      2,
	TagInt64:      2,
	TagDecimal128: 2,
	TagTimestamp:  3,
	TagDateTime:   4,
	TagString:     5,
	TagRegex:      6,
	TagBinary:     7,
	TagObjectID:   8,
	TagBool:       9,
	TagDocument:   10,
	TagArray:      11,
	TagMaxKey:     12,
}

func (t Tag) rank() int {
	if r, ok := sortRank[t]; ok {
		return r
	}
	return 99
}

func (t Tag) isNumeric() bool {
	switch t {
	case TagDouble, TagInt32, TagInt64, TagDecimal128:
		return true
	}
	return false
}

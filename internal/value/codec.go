// ABOUTME: Binary wire encoding for documents and values (§6.1)
// ABOUTME: i32 total_length | (tag, key, payload)* | 0x00 terminator

package value

import (
	"encoding/binary"
	"fmt"
)

// EncodeValue serializes a single value as a standalone blob: one tag byte
// followed by its typed payload. Used wherever a bare value needs to be
// stored outside of a document, such as a B+tree index key.
func EncodeValue(v Value) []byte {
	out := make([]byte, 1, 1+8)
	out[0] = byte(v.Tag)
	return append(out, encodePayload(v)...)
}

// DecodeValue parses a blob produced by EncodeValue, returning the number
// of bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, fmt.Errorf("value: empty buffer")
	}
	v, n, err := decodePayload(Tag(b[0]), b[1:])
	if err != nil {
		return Value{}, 0, err
	}
	return v, n + 1, nil
}

// Encode serializes the document to its on-disk binary form.
func (d *Document) Encode() []byte {
	var body []byte
	for i, k := range d.keys {
		body = append(body, byte(d.vals[i].Tag))
		body = append(body, []byte(k)...)
		body = append(body, 0x00)
		body = append(body, encodePayload(d.vals[i])...)
	}
	body = append(body, 0x00)

	total := len(body) + 4
	out := make([]byte, 4, total)
	binary.LittleEndian.PutUint32(out, uint32(total))
	out = append(out, body...)
	return out
}

// DecodeDocument parses a document from its on-disk binary form, returning
// the number of bytes consumed (the leading total_length field).
func DecodeDocument(b []byte) (*Document, int, error) {
	if len(b) < 5 {
		return nil, 0, fmt.Errorf("value: document buffer too short (%d bytes)", len(b))
	}
	total := int(binary.LittleEndian.Uint32(b))
	if total < 5 || total > len(b) {
		return nil, 0, fmt.Errorf("value: document length %d out of range (buffer %d)", total, len(b))
	}

	d := NewDocument()
	off := 4
	for {
		if off >= total {
			return nil, 0, fmt.Errorf("value: document missing terminator")
		}
		tag := Tag(b[off])
		off++
		if tag == 0x00 {
			break
		}
		key, n, err := readCString(b[off:total])
		if err != nil {
			return nil, 0, err
		}
		off += n

		v, n, err := decodePayload(tag, b[off:total])
		if err != nil {
			return nil, 0, fmt.Errorf("value: field %q: %w", key, err)
		}
		off += n
		d.Set(key, v)
	}
	if off != total {
		return nil, 0, fmt.Errorf("value: trailing bytes after document terminator")
	}
	return d, total, nil
}

func readCString(b []byte) (string, int, error) {
	for i, c := range b {
		if c == 0x00 {
			return string(b[:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("value: unterminated string")
}

func encodePayload(v Value) []byte {
	switch v.Tag {
	case TagNull, TagMinKey, TagMaxKey:
		return nil
	case TagBool:
		if v.boolVal {
			return []byte{1}
		}
		return []byte{0}
	case TagInt32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.int32Val))
		return b
	case TagInt64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.int64Val))
		return b
	case TagDouble:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, floatBits(v.f64Val))
		return b
	case TagDecimal128:
		raw := v.decVal.Bytes()
		return raw[:]
	case TagDateTime:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.dtVal))
		return b
	case TagTimestamp:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint32(b[0:4], v.tsVal.Seconds)
		binary.LittleEndian.PutUint32(b[4:8], v.tsVal.Ordinal)
		return b
	case TagString:
		return encodeLenString(v.strVal)
	case TagObjectID:
		return append([]byte{}, v.oidVal[:]...)
	case TagBinary:
		b := make([]byte, 4, 5+len(v.binVal.Data))
		binary.LittleEndian.PutUint32(b, uint32(len(v.binVal.Data)))
		b = append(b, v.binVal.Subtype)
		b = append(b, v.binVal.Data...)
		return b
	case TagRegex:
		var b []byte
		b = append(b, []byte(v.regexVal.Pattern)...)
		b = append(b, 0x00)
		b = append(b, []byte(v.regexVal.Options)...)
		b = append(b, 0x00)
		return b
	case TagDocument:
		return v.docVal.Encode()
	case TagArray:
		return encodeArray(v.arrVal)
	}
	return nil
}

func decodePayload(tag Tag, b []byte) (Value, int, error) {
	switch tag {
	case TagNull:
		return Null(), 0, nil
	case TagMinKey:
		return MinKey(), 0, nil
	case TagMaxKey:
		return MaxKey(), 0, nil
	case TagBool:
		if err := need(b, 1); err != nil {
			return Value{}, 0, err
		}
		return Bool(b[0] != 0), 1, nil
	case TagInt32:
		if err := need(b, 4); err != nil {
			return Value{}, 0, err
		}
		return Int32(int32(binary.LittleEndian.Uint32(b))), 4, nil
	case TagInt64:
		if err := need(b, 8); err != nil {
			return Value{}, 0, err
		}
		return Int64(int64(binary.LittleEndian.Uint64(b))), 8, nil
	case TagDouble:
		if err := need(b, 8); err != nil {
			return Value{}, 0, err
		}
		return Double(bitsFloat(binary.LittleEndian.Uint64(b))), 8, nil
	case TagDecimal128:
		if err := need(b, 16); err != nil {
			return Value{}, 0, err
		}
		var raw [16]byte
		copy(raw[:], b[:16])
		dec, err := DecodeDecimal128(raw)
		if err != nil {
			return Value{}, 0, err
		}
		return Decimal(dec), 16, nil
	case TagDateTime:
		if err := need(b, 8); err != nil {
			return Value{}, 0, err
		}
		return DateTime(int64(binary.LittleEndian.Uint64(b))), 8, nil
	case TagTimestamp:
		if err := need(b, 8); err != nil {
			return Value{}, 0, err
		}
		return Ts(Timestamp{
			Seconds: binary.LittleEndian.Uint32(b[0:4]),
			Ordinal: binary.LittleEndian.Uint32(b[4:8]),
		}), 8, nil
	case TagString:
		s, n, err := decodeLenString(b)
		if err != nil {
			return Value{}, 0, err
		}
		return String(s), n, nil
	case TagObjectID:
		if err := need(b, 12); err != nil {
			return Value{}, 0, err
		}
		var id ObjectID
		copy(id[:], b[:12])
		return Oid(id), 12, nil
	case TagBinary:
		if err := need(b, 5); err != nil {
			return Value{}, 0, err
		}
		length := int(binary.LittleEndian.Uint32(b))
		if err := need(b, 5+length); err != nil {
			return Value{}, 0, err
		}
		subtype := b[4]
		data := make([]byte, length)
		copy(data, b[5:5+length])
		return Bin(subtype, data), 5 + length, nil
	case TagRegex:
		pattern, n1, err := readCString(b)
		if err != nil {
			return Value{}, 0, err
		}
		options, n2, err := readCString(b[n1:])
		if err != nil {
			return Value{}, 0, err
		}
		return Rx(pattern, options), n1 + n2, nil
	case TagDocument:
		doc, n, err := DecodeDocument(b)
		if err != nil {
			return Value{}, 0, err
		}
		return Doc(doc), n, nil
	case TagArray:
		items, n, err := decodeArray(b)
		if err != nil {
			return Value{}, 0, err
		}
		return Arr(items), n, nil
	}
	return Value{}, 0, fmt.Errorf("value: unknown type tag 0x%02x", byte(tag))
}

func encodeLenString(s string) []byte {
	out := make([]byte, 4, 5+len(s))
	binary.LittleEndian.PutUint32(out, uint32(len(s)+1))
	out = append(out, []byte(s)...)
	out = append(out, 0x00)
	return out
}

func decodeLenString(b []byte) (string, int, error) {
	if err := need(b, 4); err != nil {
		return "", 0, err
	}
	length := int(binary.LittleEndian.Uint32(b))
	if length < 1 {
		return "", 0, fmt.Errorf("value: invalid string length %d", length)
	}
	if err := need(b, 4+length); err != nil {
		return "", 0, err
	}
	return string(b[4 : 4+length-1]), 4 + length, nil
}

// encodeArray encodes a positional sequence: i32 total_length | (tag,
// payload)* | 0x00, the same framing as a document but without field names.
func encodeArray(items []Value) []byte {
	var body []byte
	for _, v := range items {
		body = append(body, byte(v.Tag))
		body = append(body, encodePayload(v)...)
	}
	body = append(body, 0x00)

	total := len(body) + 4
	out := make([]byte, 4, total)
	binary.LittleEndian.PutUint32(out, uint32(total))
	out = append(out, body...)
	return out
}

func decodeArray(b []byte) ([]Value, int, error) {
	if err := need(b, 5); err != nil {
		return nil, 0, err
	}
	total := int(binary.LittleEndian.Uint32(b))
	if total < 5 || total > len(b) {
		return nil, 0, fmt.Errorf("value: array length %d out of range (buffer %d)", total, len(b))
	}

	var items []Value
	off := 4
	for {
		if off >= total {
			return nil, 0, fmt.Errorf("value: array missing terminator")
		}
		tag := Tag(b[off])
		off++
		if tag == 0x00 {
			break
		}
		v, n, err := decodePayload(tag, b[off:total])
		if err != nil {
			return nil, 0, err
		}
		off += n
		items = append(items, v)
	}
	if off != total {
		return nil, 0, fmt.Errorf("value: trailing bytes after array terminator")
	}
	return items, total, nil
}

func need(b []byte, n int) error {
	if len(b) < n {
		return fmt.Errorf("value: buffer too short: need %d, have %d", n, len(b))
	}
	return nil
}

// ABOUTME: The binary value model shared by documents, index keys, and queries
// ABOUTME: One tagged variant type; Compare implements the total cross-type order

package value

import (
	"bytes"
	"fmt"
)

// Timestamp is the internal replication-style timestamp: whole seconds plus
// an ordinal for disambiguating multiple timestamps within the same second.
// Distinct from DateTime, which is a millisecond-resolution wall-clock value.
type Timestamp struct {
	Seconds uint32
	Ordinal uint32
}

// Binary is an opaque byte payload tagged with a subtype, mirroring the
// generic binary type found in document-oriented wire formats.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Regex is a pattern plus option flags, stored and compared as a pair of
// strings; the engine never compiles regexes for storage purposes.
type Regex struct {
	Pattern string
	Options string
}

// Value is a tagged union over every storable scalar and container type.
// Only the field matching Tag is meaningful; the rest are zero.
type Value struct {
	Tag Tag

	boolVal   bool
	int32Val  int32
	int64Val  int64
	f64Val    float64
	strVal    string
	binVal    Binary
	oidVal    ObjectID
	dtVal     int64 // milliseconds since Unix epoch
	tsVal     Timestamp
	decVal    Decimal128
	regexVal  Regex
	docVal    *Document
	arrVal    []Value
}

func Null() Value                  { return Value{Tag: TagNull} }
func MinKey() Value                { return Value{Tag: TagMinKey} }
func MaxKey() Value                { return Value{Tag: TagMaxKey} }
func Bool(b bool) Value            { return Value{Tag: TagBool, boolVal: b} }
func Int32(i int32) Value          { return Value{Tag: TagInt32, int32Val: i} }
func Int64(i int64) Value          { return Value{Tag: TagInt64, int64Val: i} }
func Double(f float64) Value       { return Value{Tag: TagDouble, f64Val: f} }
func String(s string) Value        { return Value{Tag: TagString, strVal: s} }
func Decimal(d Decimal128) Value   { return Value{Tag: TagDecimal128, decVal: d} }
func DateTime(millis int64) Value  { return Value{Tag: TagDateTime, dtVal: millis} }
func Ts(ts Timestamp) Value        { return Value{Tag: TagTimestamp, tsVal: ts} }
func Bin(subtype byte, d []byte) Value {
	return Value{Tag: TagBinary, binVal: Binary{Subtype: subtype, Data: d}}
}
func Oid(id ObjectID) Value { return Value{Tag: TagObjectID, oidVal: id} }
func Rx(pattern, options string) Value {
	return Value{Tag: TagRegex, regexVal: Regex{Pattern: pattern, Options: options}}
}
func Doc(d *Document) Value    { return Value{Tag: TagDocument, docVal: d} }
func Arr(items []Value) Value  { return Value{Tag: TagArray, arrVal: items} }

func (v Value) AsBool() (bool, bool)          { return v.boolVal, v.Tag == TagBool }
func (v Value) AsInt32() (int32, bool)        { return v.int32Val, v.Tag == TagInt32 }
func (v Value) AsInt64() (int64, bool)        { return v.int64Val, v.Tag == TagInt64 }
func (v Value) AsDouble() (float64, bool)     { return v.f64Val, v.Tag == TagDouble }
func (v Value) AsString() (string, bool)      { return v.strVal, v.Tag == TagString }
func (v Value) AsBinary() (Binary, bool)      { return v.binVal, v.Tag == TagBinary }
func (v Value) AsObjectID() (ObjectID, bool)  { return v.oidVal, v.Tag == TagObjectID }
func (v Value) AsDateTime() (int64, bool)     { return v.dtVal, v.Tag == TagDateTime }
func (v Value) AsTimestamp() (Timestamp, bool) { return v.tsVal, v.Tag == TagTimestamp }
func (v Value) AsDecimal128() (Decimal128, bool) { return v.decVal, v.Tag == TagDecimal128 }
func (v Value) AsRegex() (Regex, bool)        { return v.regexVal, v.Tag == TagRegex }
func (v Value) AsDocument() (*Document, bool) { return v.docVal, v.Tag == TagDocument }
func (v Value) AsArray() ([]Value, bool)      { return v.arrVal, v.Tag == TagArray }

// asFloat64 widens any numeric variant to a float64 for cross-numeric
// comparison. Decimal128 widening is intentionally lossy beyond float64
// precision; exact decimal-vs-decimal comparison goes through Decimal128.Cmp.
func (v Value) asFloat64() float64 {
	switch v.Tag {
	case TagInt32:
		return float64(v.int32Val)
	case TagInt64:
		return float64(v.int64Val)
	case TagDouble:
		return v.f64Val
	case TagDecimal128:
		return v.decVal.Float64()
	}
	return 0
}

// Compare implements the total order over Value from §3.1: values of
// different type families order by sortRank; within the numeric family,
// values compare by magnitude regardless of which numeric tag they carry;
// within every other family, comparison is type-specific.
func Compare(a, b Value) int {
	ra, rb := a.Tag.rank(), b.Tag.rank()
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch {
	case a.Tag.isNumeric() && b.Tag.isNumeric():
		if a.Tag == TagDecimal128 && b.Tag == TagDecimal128 {
			return a.decVal.Cmp(b.decVal)
		}
		af, bf := a.asFloat64(), b.asFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case a.Tag == TagNull, a.Tag == TagMinKey, a.Tag == TagMaxKey:
		return 0
	case a.Tag == TagTimestamp:
		if a.tsVal.Seconds != b.tsVal.Seconds {
			return cmpUint32(a.tsVal.Seconds, b.tsVal.Seconds)
		}
		return cmpUint32(a.tsVal.Ordinal, b.tsVal.Ordinal)
	case a.Tag == TagDateTime:
		return cmpInt64(a.dtVal, b.dtVal)
	case a.Tag == TagString:
		return cmpString(a.strVal, b.strVal)
	case a.Tag == TagRegex:
		if c := cmpString(a.regexVal.Pattern, b.regexVal.Pattern); c != 0 {
			return c
		}
		return cmpString(a.regexVal.Options, b.regexVal.Options)
	case a.Tag == TagBinary:
		if a.binVal.Subtype != b.binVal.Subtype {
			return cmpUint32(uint32(a.binVal.Subtype), uint32(b.binVal.Subtype))
		}
		return bytes.Compare(a.binVal.Data, b.binVal.Data)
	case a.Tag == TagObjectID:
		return a.oidVal.Compare(b.oidVal)
	case a.Tag == TagBool:
		if a.boolVal == b.boolVal {
			return 0
		}
		if !a.boolVal {
			return -1
		}
		return 1
	case a.Tag == TagDocument:
		return compareDocuments(a.docVal, b.docVal)
	case a.Tag == TagArray:
		return compareArrays(a.arrVal, b.arrVal)
	}
	return 0
}

// Equal is Compare(a, b) == 0, the document-equality relation used by §3.1.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt64(int64(len(a)), int64(len(b)))
}

// compareDocuments orders documents by comparing field-by-field in
// insertion order; used only to give the family a deterministic order
// (e.g. as an index key component), not as the document-equality check,
// which is set-based (see Document.Equal).
func compareDocuments(a, b *Document) int {
	an, bn := a.Len(), b.Len()
	n := an
	if bn < n {
		n = bn
	}
	for i := 0; i < n; i++ {
		ak, av, _ := a.At(i)
		bk, bv, _ := b.At(i)
		if c := cmpString(ak, bk); c != 0 {
			return c
		}
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return cmpInt64(int64(an), int64(bn))
}

func (v Value) String() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagMinKey:
		return "MinKey"
	case TagMaxKey:
		return "MaxKey"
	case TagBool:
		return fmt.Sprintf("%v", v.boolVal)
	case TagInt32:
		return fmt.Sprintf("%d", v.int32Val)
	case TagInt64:
		return fmt.Sprintf("%d", v.int64Val)
	case TagDouble:
		return fmt.Sprintf("%g", v.f64Val)
	case TagDecimal128:
		return v.decVal.String()
	case TagString:
		return v.strVal
	case TagObjectID:
		return v.oidVal.Hex()
	case TagDateTime:
		return fmt.Sprintf("DateTime(%d)", v.dtVal)
	case TagTimestamp:
		return fmt.Sprintf("Timestamp(%d,%d)", v.tsVal.Seconds, v.tsVal.Ordinal)
	case TagBinary:
		return fmt.Sprintf("Binary(%d,%d bytes)", v.binVal.Subtype, len(v.binVal.Data))
	case TagRegex:
		return fmt.Sprintf("/%s/%s", v.regexVal.Pattern, v.regexVal.Options)
	case TagDocument:
		return v.docVal.String()
	case TagArray:
		return fmt.Sprintf("Array(%d)", len(v.arrVal))
	}
	return "<unknown>"
}

package value

import (
	"math/big"
	"testing"
)

func TestDocumentEncodeDecodeRoundTrip(t *testing.T) {
	oid := NewObjectID()
	d := NewDocument().
		Set("_id", Oid(oid)).
		Set("name", String("widget")).
		Set("price", Double(19.99)).
		Set("qty", Int32(7)).
		Set("big", Int64(1<<40)).
		Set("active", Bool(true)).
		Set("tags", Arr([]Value{String("a"), String("b")})).
		Set("meta", Doc(NewDocument().Set("weight", Double(1.5))))

	encoded := d.Encode()
	decoded, n, err := DecodeDocument(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if !d.Equal(decoded) {
		t.Fatalf("round trip mismatch: got %s, want %s", decoded, d)
	}
}

func TestDocumentEqualityIgnoresOrder(t *testing.T) {
	a := NewDocument().Set("x", Int32(1)).Set("y", Int32(2))
	b := NewDocument().Set("y", Int32(2)).Set("x", Int32(1))
	if !a.Equal(b) {
		t.Fatalf("expected documents to be equal regardless of insertion order")
	}
}

func TestDocumentSetOverwritePreservesPosition(t *testing.T) {
	d := NewDocument().Set("a", Int32(1)).Set("b", Int32(2))
	d.Set("a", Int32(99))
	k, v, _ := d.At(0)
	if k != "a" {
		t.Fatalf("expected 'a' to stay at position 0, got %q", k)
	}
	if got, _ := v.AsInt32(); got != 99 {
		t.Fatalf("expected overwritten value 99, got %d", got)
	}
}

func TestDecimal128RoundTrip(t *testing.T) {
	cases := []struct {
		neg bool
		coeff int64
		exp  int32
	}{
		{false, 0, 0},
		{false, 12345, -2},
		{true, 999999999, 10},
	}
	for _, c := range cases {
		d := NewDecimal128(c.neg, big.NewInt(c.coeff), c.exp)
		raw := d.Bytes()
		back, err := DecodeDecimal128(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if d.Cmp(back) != 0 {
			t.Fatalf("decimal128 round trip mismatch: %s vs %s", d, back)
		}
	}
}

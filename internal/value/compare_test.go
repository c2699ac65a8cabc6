package value

import "testing"

func TestCompareCrossTypeOrdering(t *testing.T) {
	ordered := []Value{
		MinKey(),
		Null(),
		Int32(1),
		Double(1.0), // ties with Int32(1) numerically
		String("a"),
		Oid(NewObjectID()),
		Bool(false),
		Bool(true),
		MaxKey(),
	}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) > 0 {
			t.Fatalf("expected ordered[%d] <= ordered[%d], got Compare=%d (%s vs %s)",
				i, i+1, Compare(ordered[i], ordered[i+1]), ordered[i], ordered[i+1])
		}
	}
}

func TestCompareNumericCrossTag(t *testing.T) {
	if Compare(Int32(5), Int64(5)) != 0 {
		t.Fatalf("expected int32(5) == int64(5)")
	}
	if Compare(Double(5.0), Int64(5)) != 0 {
		t.Fatalf("expected double(5.0) == int64(5)")
	}
	if Compare(Int32(4), Int64(5)) >= 0 {
		t.Fatalf("expected int32(4) < int64(5)")
	}
}

func TestCompareStringLexicographic(t *testing.T) {
	if Compare(String("apple"), String("banana")) >= 0 {
		t.Fatalf("expected 'apple' < 'banana'")
	}
}

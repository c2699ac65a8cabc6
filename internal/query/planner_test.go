package query

import (
	"testing"

	"github.com/nainya/tdb/internal/index"
	"github.com/nainya/tdb/internal/value"
)

func mgrWith(descs ...index.Descriptor) *index.Manager {
	idxs := make([]*index.Index, len(descs))
	for i, d := range descs {
		idxs[i] = &index.Index{Descriptor: d}
	}
	return index.NewManager(idxs)
}

func TestChoosePlanFallsBackToFullScan(t *testing.T) {
	m := mgrWith(index.Descriptor{Name: "_id", Fields: []string{"_id"}, Unique: true})
	plan := ChoosePlan(Cmp{Field: "name", Op: OpEq, Value: value.String("x")}, m)
	if plan.Kind != FullScan {
		t.Fatalf("Kind = %v, want FullScan", plan.Kind)
	}
}

func TestChoosePlanPrefersUniqueIndexSeek(t *testing.T) {
	m := mgrWith(
		index.Descriptor{Name: "by_email", Fields: []string{"email"}, Unique: true},
		index.Descriptor{Name: "by_status", Fields: []string{"status"}},
	)
	pred := And{Clauses: []Predicate{
		Cmp{Field: "email", Op: OpEq, Value: value.String("a@example.com")},
		Cmp{Field: "status", Op: OpEq, Value: value.String("active")},
	}}
	plan := ChoosePlan(pred, m)
	if plan.Kind != IndexSeek || plan.IndexName != "by_email" {
		t.Fatalf("plan = %+v, want IndexSeek on by_email", plan)
	}
}

func TestChoosePlanPrefersLongestCompositePrefix(t *testing.T) {
	m := mgrWith(
		index.Descriptor{Name: "by_a", Fields: []string{"a"}},
		index.Descriptor{Name: "by_a_b", Fields: []string{"a", "b"}},
	)
	pred := And{Clauses: []Predicate{
		Cmp{Field: "a", Op: OpEq, Value: value.Int32(1)},
		Cmp{Field: "b", Op: OpEq, Value: value.Int32(2)},
	}}
	plan := ChoosePlan(pred, m)
	if plan.Kind != IndexSeek || plan.IndexName != "by_a_b" {
		t.Fatalf("plan = %+v, want IndexSeek on by_a_b (longer prefix)", plan)
	}
	arr, ok := plan.SeekKey.AsArray()
	if !ok || len(arr) != 2 {
		t.Fatalf("SeekKey = %v, want a 2-element composite array", plan.SeekKey)
	}
}

func TestChoosePlanRangeOnSingleField(t *testing.T) {
	m := mgrWith(index.Descriptor{Name: "by_age", Fields: []string{"age"}})
	pred := Range{Field: "age", Lo: value.Int32(18), HasLo: true, LoInclusive: true, Hi: value.Int32(65), HasHi: true, HiInclusive: false}
	plan := ChoosePlan(pred, m)
	if plan.Kind != IndexRange || plan.IndexName != "by_age" {
		t.Fatalf("plan = %+v, want IndexRange on by_age", plan)
	}
	lo, _ := plan.Lo.AsInt32()
	hi, _ := plan.Hi.AsInt32()
	if lo != 18 || hi != 65 || !plan.LoIncl || plan.HiIncl {
		t.Fatalf("plan bounds = %+v, want [18,65)", plan)
	}
}

func TestChoosePlanCompositePrefixEqualityThenRange(t *testing.T) {
	m := mgrWith(index.Descriptor{Name: "by_country_age", Fields: []string{"country", "age"}})
	pred := And{Clauses: []Predicate{
		Cmp{Field: "country", Op: OpEq, Value: value.String("US")},
		Cmp{Field: "age", Op: OpGte, Value: value.Int32(21)},
	}}
	plan := ChoosePlan(pred, m)
	if plan.Kind != IndexRange || plan.IndexName != "by_country_age" {
		t.Fatalf("plan = %+v, want IndexRange on by_country_age", plan)
	}
	loArr, _ := plan.Lo.AsArray()
	hiArr, _ := plan.Hi.AsArray()
	country, _ := loArr[0].AsString()
	if country != "US" {
		t.Fatalf("lo[0] = %v, want US (equality prefix held fixed)", loArr[0])
	}
	if !value.Equal(hiArr[0], value.String("US")) {
		t.Fatalf("hi[0] = %v, want US", hiArr[0])
	}
	age, _ := loArr[1].AsInt32()
	if age != 21 || !plan.LoIncl {
		t.Fatalf("lo[1] = %v inclusive=%v, want 21 inclusive", age, plan.LoIncl)
	}
	if plan.HasHi {
		t.Fatalf("expected no upper bound on age, got HasHi=true")
	}
}

func TestMatchPrefixStopsAtUnconstrainedField(t *testing.T) {
	eq := map[string]value.Value{"a": value.Int32(1)}
	rng := map[string]rangeBound{}
	n, usedRange := matchPrefix([]string{"a", "b", "c"}, eq, rng)
	if n != 1 || usedRange {
		t.Fatalf("matchPrefix = (%d, %v), want (1, false)", n, usedRange)
	}
}

func TestMergeRangeTightensBounds(t *testing.T) {
	m := map[string]rangeBound{}
	mergeRange(m, "n", rangeBound{HasLo: true, Lo: value.Int32(5), LoIncl: true})
	mergeRange(m, "n", rangeBound{HasLo: true, Lo: value.Int32(10), LoIncl: false})
	got := m["n"]
	lo, _ := got.Lo.AsInt32()
	if lo != 10 || got.LoIncl {
		t.Fatalf("merged lo = %v inclusive=%v, want 10 exclusive (tighter bound wins)", lo, got.LoIncl)
	}
}

// ABOUTME: Planner: picks an index for a predicate's top-level conjuncts
// ABOUTME: preferring unique, then longest composite prefix, then selectivity

package query

import (
	"sort"

	"github.com/nainya/tdb/internal/index"
	"github.com/nainya/tdb/internal/value"
)

// PlanKind names the strategy a Cursor will execute.
type PlanKind int

const (
	FullScan PlanKind = iota
	IndexSeek
	IndexRange
)

func (k PlanKind) String() string {
	switch k {
	case IndexSeek:
		return "index_seek"
	case IndexRange:
		return "index_range"
	default:
		return "full_scan"
	}
}

// Plan is the chosen execution strategy, exposed to callers (and tests) via
// Cursor.Plan so they can assert an index was actually used.
type Plan struct {
	Kind      PlanKind
	IndexName string

	// IndexSeek
	SeekKey value.Value

	// IndexRange
	Lo, Hi           value.Value
	HasLo, HasHi     bool
	LoIncl, HiIncl   bool
}

type rangeBound struct {
	Lo, Hi       value.Value
	HasLo, HasHi bool
	LoIncl, HiIncl bool
}

func mergeRange(m map[string]rangeBound, field string, b rangeBound) {
	cur, ok := m[field]
	if !ok {
		m[field] = b
		return
	}
	if b.HasLo && (!cur.HasLo || value.Compare(b.Lo, cur.Lo) > 0) {
		cur.HasLo, cur.Lo, cur.LoIncl = true, b.Lo, b.LoIncl
	}
	if b.HasHi && (!cur.HasHi || value.Compare(b.Hi, cur.Hi) < 0) {
		cur.HasHi, cur.Hi, cur.HiIncl = true, b.Hi, b.HiIncl
	}
	m[field] = cur
}

// flattenAnd returns pred's top-level conjuncts: pred.Clauses if pred is an
// And, else the single predicate itself. Disjunctions and nested
// conjunctions are left for Eval to recheck in full; the planner only ever
// narrows candidates, it never needs to be exhaustive.
func flattenAnd(pred Predicate) []Predicate {
	if pred == nil {
		return nil
	}
	if a, ok := pred.(And); ok {
		return a.Clauses
	}
	return []Predicate{pred}
}

// collectConjuncts extracts the equality and range constraints a predicate
// places on individual fields, for index matching.
func collectConjuncts(pred Predicate) (map[string]value.Value, map[string]rangeBound) {
	eq := make(map[string]value.Value)
	rng := make(map[string]rangeBound)
	for _, clause := range flattenAnd(pred) {
		switch c := clause.(type) {
		case Cmp:
			switch c.Op {
			case OpEq:
				eq[c.Field] = c.Value
			case OpLt:
				mergeRange(rng, c.Field, rangeBound{HasHi: true, Hi: c.Value, HiIncl: false})
			case OpLte:
				mergeRange(rng, c.Field, rangeBound{HasHi: true, Hi: c.Value, HiIncl: true})
			case OpGt:
				mergeRange(rng, c.Field, rangeBound{HasLo: true, Lo: c.Value, LoIncl: false})
			case OpGte:
				mergeRange(rng, c.Field, rangeBound{HasLo: true, Lo: c.Value, LoIncl: true})
			}
		case Range:
			mergeRange(rng, c.Field, rangeBound{
				Lo: c.Lo, HasLo: c.HasLo, LoIncl: c.LoInclusive,
				Hi: c.Hi, HasHi: c.HasHi, HiIncl: c.HiInclusive,
			})
		}
	}
	return eq, rng
}

// matchPrefix returns how many of idx's leading fields are bound by eq
// (stopping, and counting one more, at the first field bound only by a
// range) plus whether a range terminated the match.
func matchPrefix(fields []string, eq map[string]value.Value, rng map[string]rangeBound) (int, bool) {
	n := 0
	for _, f := range fields {
		if _, ok := eq[f]; ok {
			n++
			continue
		}
		if _, ok := rng[f]; ok {
			return n + 1, true
		}
		break
	}
	return n, false
}

// ChoosePlan picks the best index for pred's top-level conjuncts, following
// §4.8's preference order: unique indexes, then longest composite prefix,
// then (heuristically, in the absence of real column statistics) the
// narrowest match. Falls back to FullScan if no declared index is usable.
func ChoosePlan(pred Predicate, idxMgr *index.Manager) Plan {
	eq, rng := collectConjuncts(pred)

	type candidate struct {
		idx        *index.Index
		prefixLen  int
		usedRange  bool
	}
	var candidates []candidate
	for _, idx := range idxMgr.Indexes() {
		n, usedRange := matchPrefix(idx.Fields, eq, rng)
		if n == 0 {
			continue
		}
		candidates = append(candidates, candidate{idx: idx, prefixLen: n, usedRange: usedRange})
	}
	if len(candidates) == 0 {
		return Plan{Kind: FullScan}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.idx.Unique != b.idx.Unique {
			return a.idx.Unique
		}
		if a.prefixLen != b.prefixLen {
			return a.prefixLen > b.prefixLen
		}
		if len(a.idx.Fields) != len(b.idx.Fields) {
			return len(a.idx.Fields) < len(b.idx.Fields)
		}
		return a.idx.Name < b.idx.Name
	})
	best := candidates[0]

	fullEquality := !best.usedRange && best.prefixLen == len(best.idx.Fields)
	if fullEquality {
		return Plan{Kind: IndexSeek, IndexName: best.idx.Name, SeekKey: seekKeyFor(best.idx.Fields, eq)}
	}

	lo, hi, hasLo, hasHi, loIncl, hiIncl := rangeKeyFor(best.idx.Fields, eq, rng)
	return Plan{
		Kind: IndexRange, IndexName: best.idx.Name,
		Lo: lo, Hi: hi, HasLo: hasLo, HasHi: hasHi, LoIncl: loIncl, HiIncl: hiIncl,
	}
}

func seekKeyFor(fields []string, eq map[string]value.Value) value.Value {
	if len(fields) == 1 {
		return eq[fields[0]]
	}
	vals := make([]value.Value, len(fields))
	for i, f := range fields {
		vals[i] = eq[f]
	}
	return value.Arr(vals)
}

// rangeKeyFor builds lo/hi composite bounds: every prefix field with an
// equality constraint is held fixed, and the first field with only a range
// constraint supplies the varying bound.
func rangeKeyFor(fields []string, eq map[string]value.Value, rng map[string]rangeBound) (lo, hi value.Value, hasLo, hasHi, loIncl, hiIncl bool) {
	if len(fields) == 1 {
		b := rng[fields[0]]
		return b.Lo, b.Hi, b.HasLo, b.HasHi, b.LoIncl, b.HiIncl
	}
	loVals := make([]value.Value, len(fields))
	hiVals := make([]value.Value, len(fields))
	for i, f := range fields {
		if v, ok := eq[f]; ok {
			loVals[i], hiVals[i] = v, v
			continue
		}
		b := rng[f]
		loVals[i], hiVals[i] = b.Lo, b.Hi
		hasLo, hasHi, loIncl, hiIncl = b.HasLo, b.HasHi, b.LoIncl, b.HiIncl
		for j := i + 1; j < len(fields); j++ {
			loVals[j], hiVals[j] = value.MinKey(), value.MaxKey()
		}
		break
	}
	return value.Arr(loVals), value.Arr(hiVals), hasLo, hasHi, loIncl, hiIncl
}

// ABOUTME: Predicate AST: conjunctions/disjunctions of comparisons, ranges,
// ABOUTME: membership tests, and a fixed vocabulary of function calls

package query

import (
	"strings"

	"github.com/nainya/tdb/internal/value"
)

// Predicate is a boolean test over one document. The planner inspects a
// predicate's top-level conjuncts to pick an index; Eval always re-checks
// the whole tree against the materialized document, so a plan that only
// covers part of the predicate is still correct.
type Predicate interface {
	Eval(doc *value.Document) bool
}

// And is true when every clause is true (an empty And is true).
type And struct{ Clauses []Predicate }

func (a And) Eval(doc *value.Document) bool {
	for _, c := range a.Clauses {
		if !c.Eval(doc) {
			return false
		}
	}
	return true
}

// Or is true when any clause is true (an empty Or is false).
type Or struct{ Clauses []Predicate }

func (o Or) Eval(doc *value.Document) bool {
	for _, c := range o.Clauses {
		if c.Eval(doc) {
			return true
		}
	}
	return false
}

// CmpOp is a comparison operator over §3.1's total order.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
)

// Cmp compares one document field against a literal value. A missing field
// compares as Null, per the index manager's missing-field policy.
type Cmp struct {
	Field string
	Op    CmpOp
	Value value.Value
}

func (c Cmp) Eval(doc *value.Document) bool {
	v, ok := doc.Get(c.Field)
	if !ok {
		v = value.Null()
	}
	return evalCmp(value.Compare(v, c.Value), c.Op)
}

func evalCmp(cmp int, op CmpOp) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return false
	}
}

// Range tests lo <= field <= hi, either bound optional and independently
// inclusive/exclusive.
type Range struct {
	Field       string
	Lo          value.Value
	HasLo       bool
	LoInclusive bool
	Hi          value.Value
	HasHi       bool
	HiInclusive bool
}

func (r Range) Eval(doc *value.Document) bool {
	v, ok := doc.Get(r.Field)
	if !ok {
		v = value.Null()
	}
	if r.HasLo {
		c := value.Compare(v, r.Lo)
		if c < 0 || (c == 0 && !r.LoInclusive) {
			return false
		}
	}
	if r.HasHi {
		c := value.Compare(v, r.Hi)
		if c > 0 || (c == 0 && !r.HiInclusive) {
			return false
		}
	}
	return true
}

// In is a membership test: field must equal one of Values.
type In struct {
	Field  string
	Values []value.Value
}

func (m In) Eval(doc *value.Document) bool {
	v, ok := doc.Get(m.Field)
	if !ok {
		return false
	}
	for _, cand := range m.Values {
		if value.Equal(v, cand) {
			return true
		}
	}
	return false
}

// FuncName names one entry in the fixed function-call vocabulary §4.8
// allows inside a predicate: string ops, numeric ops, date arithmetic, and
// collection contains/count.
type FuncName string

const (
	FuncStrContains   FuncName = "str_contains"
	FuncStrStartsWith FuncName = "str_starts_with"
	FuncStrEndsWith   FuncName = "str_ends_with"
	FuncStrLower      FuncName = "str_lower"
	FuncStrUpper      FuncName = "str_upper"
	FuncStrLength     FuncName = "str_length"
	FuncNumAbs        FuncName = "num_abs"
	FuncNumMod        FuncName = "num_mod"
	FuncDateAddDays   FuncName = "date_add_days"
	FuncDateDiffDays  FuncName = "date_diff_days"
	FuncCollContains  FuncName = "coll_contains"
	FuncCollCount     FuncName = "coll_count"
)

const millisPerDay = 24 * 60 * 60 * 1000

// FuncExpr applies one vocabulary function to a document field plus static
// arguments, producing a value rather than a bool directly.
type FuncExpr struct {
	Name  FuncName
	Field string
	Args  []value.Value
}

// Value evaluates the function against doc's current field value.
func (f FuncExpr) Value(doc *value.Document) value.Value {
	v, ok := doc.Get(f.Field)
	if !ok {
		return value.Null()
	}
	switch f.Name {
	case FuncStrContains:
		s, _ := v.AsString()
		sub, _ := argString(f.Args, 0)
		return value.Bool(strings.Contains(s, sub))
	case FuncStrStartsWith:
		s, _ := v.AsString()
		pre, _ := argString(f.Args, 0)
		return value.Bool(strings.HasPrefix(s, pre))
	case FuncStrEndsWith:
		s, _ := v.AsString()
		suf, _ := argString(f.Args, 0)
		return value.Bool(strings.HasSuffix(s, suf))
	case FuncStrLower:
		s, _ := v.AsString()
		return value.String(strings.ToLower(s))
	case FuncStrUpper:
		s, _ := v.AsString()
		return value.String(strings.ToUpper(s))
	case FuncStrLength:
		s, _ := v.AsString()
		return value.Int64(int64(len(s)))
	case FuncNumAbs:
		n := numOf(v)
		if n < 0 {
			n = -n
		}
		return value.Double(n)
	case FuncNumMod:
		n := numOf(v)
		d, _ := argNum(f.Args, 0)
		if d == 0 {
			return value.Null()
		}
		return value.Double(mod(n, d))
	case FuncDateAddDays:
		ms, _ := v.AsDateTime()
		days, _ := argNum(f.Args, 0)
		return value.DateTime(ms + int64(days*millisPerDay))
	case FuncDateDiffDays:
		ms, _ := v.AsDateTime()
		other, _ := argNum(f.Args, 0)
		return value.Double(float64(ms-int64(other)) / millisPerDay)
	case FuncCollContains:
		arr, ok := v.AsArray()
		if !ok || len(f.Args) == 0 {
			return value.Bool(false)
		}
		for _, item := range arr {
			if value.Equal(item, f.Args[0]) {
				return value.Bool(true)
			}
		}
		return value.Bool(false)
	case FuncCollCount:
		if arr, ok := v.AsArray(); ok {
			return value.Int64(int64(len(arr)))
		}
		if doc, ok := v.AsDocument(); ok {
			return value.Int64(int64(doc.Len()))
		}
		return value.Int64(0)
	default:
		return value.Null()
	}
}

// Eval lets a FuncExpr stand alone as a boolean predicate (e.g.
// coll_contains, str_starts_with); the result must itself be boolean.
func (f FuncExpr) Eval(doc *value.Document) bool {
	b, _ := f.Value(doc).AsBool()
	return b
}

// FuncCmp compares a FuncExpr's result against a literal, for function
// calls whose result isn't itself boolean (str_length, num_mod, ...).
type FuncCmp struct {
	Func  FuncExpr
	Op    CmpOp
	Value value.Value
}

func (f FuncCmp) Eval(doc *value.Document) bool {
	return evalCmp(value.Compare(f.Func.Value(doc), f.Value), f.Op)
}

func argString(args []value.Value, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	return args[i].AsString()
}

func argNum(args []value.Value, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	return numOf(args[i]), true
}

// numOf widens any numeric-tagged Value to float64, matching Compare's own
// numeric-family widening; non-numeric values widen to 0.
func numOf(v value.Value) float64 {
	if n, ok := v.AsDouble(); ok {
		return n
	}
	if n, ok := v.AsInt64(); ok {
		return float64(n)
	}
	if n, ok := v.AsInt32(); ok {
		return float64(n)
	}
	if d, ok := v.AsDecimal128(); ok {
		return d.Float64()
	}
	return 0
}

func mod(a, b float64) float64 {
	r := a
	for r >= b {
		r -= b
	}
	for r < 0 {
		r += b
	}
	return r
}

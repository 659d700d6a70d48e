// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package moonblade

import (
	"fmt"
	"math"

	"github.com/nullfield-labs/xan/internal/column"
)

// EvalError is a specified error: a runtime failure annotated with
// the function name at which it arose, per spec.md §7.
type EvalError struct {
	Func string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Func, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

func evalErr(fn string, err error) error { return &EvalError{Func: fn, Err: err} }
func evalErrf(fn, format string, args ...any) error {
	return &EvalError{Func: fn, Err: fmt.Errorf(format, args...)}
}

// Globals is a mutable named-slot table written by window aggregators
// and read back by expressions evaluated later in the same pipeline
// stage (e.g. a total-pass broadcast value).
type Globals map[string]Value

// Row is the byte-cell view an expression is evaluated against.
type Row [][]byte

// RowOf converts a []string record (the recordio.Row shape) into the
// byte-cell Row evaluation expects, copying each string's bytes.
func RowOf(ss []string) Row {
	r := make(Row, len(ss))
	for i, s := range ss {
		r[i] = []byte(s)
	}
	return r
}

// Ctx carries everything Eval needs beyond the concretized tree: the
// current row, its stream-relative index, the frozen header (kept for
// dynamic col() lookups), a globals table, and the pipeline
// underscore slot. Higher-order map/filter bind their element the
// same way a pipeline binds its left-hand value.
type Ctx struct {
	Row     Row
	Headers *column.Headers
	Index   int64
	HasIdx  bool
	Globals Globals
	last    *Value // pipeline / map-filter underscore slot
}

func (c *Ctx) withLast(v Value) *Ctx {
	return &Ctx{Row: c.Row, Headers: c.Headers, Index: c.Index, HasIdx: c.HasIdx, Globals: c.Globals, last: &v}
}

// Eval evaluates a concretized node against ctx.
func Eval(n Node, ctx *Ctx) (Value, error) {
	switch t := n.(type) {
	case *Literal:
		return t.Value, nil
	case *ColumnRef:
		if t.Pos < 0 || t.Pos >= len(ctx.Row) {
			return None, nil
		}
		return Bytes(ctx.Row[t.Pos]), nil
	case *IndexRef:
		if !ctx.HasIdx {
			return None, evalErrf("index", "row index is not available in this context")
		}
		return Int(ctx.Index), nil
	case *Underscore:
		if ctx.last == nil {
			return None, evalErrf("_", "used outside of a pipeline")
		}
		return *ctx.last, nil
	case *BinOp:
		return evalBinOp(t, ctx)
	case *UnOp:
		return evalUnOp(t, ctx)
	case *ListLit:
		vals := make([]Value, len(t.Items))
		for i, it := range t.Items {
			v, err := Eval(it, ctx)
			if err != nil {
				return None, err
			}
			vals[i] = v
		}
		return List(vals), nil
	case *MapLit:
		m := make(map[string]Value, len(t.Keys))
		for i, k := range t.Keys {
			v, err := Eval(t.Values[i], ctx)
			if err != nil {
				return None, err
			}
			m[k] = v
		}
		return Map(m), nil
	case *Pipeline:
		left, err := Eval(t.Left, ctx)
		if err != nil {
			return None, err
		}
		return Eval(t.Right, ctx.withLast(left))
	case *Call:
		return evalCall(t, ctx)
	}
	return None, fmt.Errorf("unhandled node type %T", n)
}

func evalUnOp(u *UnOp, ctx *Ctx) (Value, error) {
	v, err := Eval(u.Operand, ctx)
	if err != nil {
		return None, err
	}
	switch u.Op {
	case "!":
		return Bool(!v.Truthy()), nil
	case "-":
		n, ok := NumberOf(v)
		if !ok {
			return None, evalErrf("-", "cannot negate %s", v.Kind())
		}
		if n.IsFloat() {
			return Float(-n.Float()), nil
		}
		return Int(-n.Int()), nil
	}
	return None, fmt.Errorf("unknown unary operator %q", u.Op)
}

func foldUnOp(u *UnOp) Node {
	lit, ok := u.Operand.(*Literal)
	if !ok {
		return u
	}
	v, err := evalUnOp(u, &Ctx{})
	if err != nil {
		return u
	}
	_ = lit
	return &Literal{Value: v}
}

func evalBinOp(b *BinOp, ctx *Ctx) (Value, error) {
	switch b.Op {
	case "and":
		l, err := Eval(b.Left, ctx)
		if err != nil {
			return None, err
		}
		if !l.Truthy() {
			return Bool(false), nil
		}
		r, err := Eval(b.Right, ctx)
		if err != nil {
			return None, err
		}
		return Bool(r.Truthy()), nil
	case "or":
		l, err := Eval(b.Left, ctx)
		if err != nil {
			return None, err
		}
		if l.Truthy() {
			return Bool(true), nil
		}
		r, err := Eval(b.Right, ctx)
		if err != nil {
			return None, err
		}
		return Bool(r.Truthy()), nil
	}
	l, err := Eval(b.Left, ctx)
	if err != nil {
		return None, err
	}
	r, err := Eval(b.Right, ctx)
	if err != nil {
		return None, err
	}
	return applyBinOp(b.Op, l, r)
}

func foldBinOp(b *BinOp) Node {
	ll, lok := b.Left.(*Literal)
	rl, rok := b.Right.(*Literal)
	if !lok || !rok {
		return b
	}
	v, err := applyBinOp(b.Op, ll.Value, rl.Value)
	if err != nil {
		return b
	}
	return &Literal{Value: v}
}

func applyBinOp(op string, l, r Value) (Value, error) {
	switch op {
	case "+":
		return addValues(l, r)
	case "++":
		return concatValues(l, r)
	case "-":
		return arith(op, l, r)
	case "*":
		return arith(op, l, r)
	case "/":
		return divide(l, r)
	case "//":
		return floorDivide(l, r)
	case "%":
		return modulo(l, r)
	case "**":
		return power(l, r)
	case "<", "<=", ">", ">=", "lt", "le", "gt", "ge":
		return compareOp(op, l, r)
	case "==", "eq":
		return Bool(equalValues(l, r)), nil
	case "!=", "ne":
		return Bool(!equalValues(l, r)), nil
	case "in":
		return inOp(l, r)
	case "not in":
		v, err := inOp(l, r)
		if err != nil {
			return None, err
		}
		return Bool(!v.AsBool()), nil
	}
	return None, fmt.Errorf("unknown operator %q", op)
}

func addValues(l, r Value) (Value, error) {
	if l.Kind() == KindString || r.Kind() == KindString {
		return Str(l.String() + r.String()), nil
	}
	if l.Kind() == KindList && r.Kind() == KindList {
		return List(append(append([]Value(nil), l.AsList()...), r.AsList()...)), nil
	}
	return arith("+", l, r)
}

func concatValues(l, r Value) (Value, error) {
	if l.Kind() == KindList || r.Kind() == KindList {
		return List(append(append([]Value(nil), l.AsList()...), r.AsList()...)), nil
	}
	return Str(l.String() + r.String()), nil
}

func arith(op string, l, r Value) (Value, error) {
	ln, lok := NumberOf(l)
	rn, rok := NumberOf(r)
	if !lok || !rok {
		return None, fmt.Errorf("cannot apply %q to %s and %s", op, l.Kind(), r.Kind())
	}
	if ln.IsFloat() || rn.IsFloat() {
		a, b := ln.Float(), rn.Float()
		switch op {
		case "-":
			return Float(a - b), nil
		case "*":
			return Float(a * b), nil
		case "+":
			return Float(a + b), nil
		}
	}
	a, b := ln.Int(), rn.Int()
	switch op {
	case "-":
		return Int(a - b), nil
	case "*":
		return Int(a * b), nil
	case "+":
		return Int(a + b), nil
	}
	return None, fmt.Errorf("unknown arithmetic operator %q", op)
}

// divide always promotes to float division, per spec.md's explicit
// "integer division floors" rule belonging to `//` instead.
func divide(l, r Value) (Value, error) {
	ln, lok := NumberOf(l)
	rn, rok := NumberOf(r)
	if !lok || !rok {
		return None, fmt.Errorf("cannot divide %s by %s", l.Kind(), r.Kind())
	}
	return Float(ln.Float() / rn.Float()), nil
}

func floorDivide(l, r Value) (Value, error) {
	ln, lok := NumberOf(l)
	rn, rok := NumberOf(r)
	if !lok || !rok {
		return None, fmt.Errorf("cannot divide %s by %s", l.Kind(), r.Kind())
	}
	if !ln.IsFloat() && !rn.IsFloat() {
		if rn.Int() == 0 {
			return None, fmt.Errorf("integer division by zero")
		}
		q := ln.Int() / rn.Int()
		if (ln.Int()%rn.Int() != 0) && ((ln.Int() < 0) != (rn.Int() < 0)) {
			q--
		}
		return Int(q), nil
	}
	return Float(math.Floor(ln.Float() / rn.Float())), nil
}

// modulo respects the sign of the dividend, matching Go's native `%`
// for both integer and float operands.
func modulo(l, r Value) (Value, error) {
	ln, lok := NumberOf(l)
	rn, rok := NumberOf(r)
	if !lok || !rok {
		return None, fmt.Errorf("cannot modulo %s by %s", l.Kind(), r.Kind())
	}
	if !ln.IsFloat() && !rn.IsFloat() {
		if rn.Int() == 0 {
			return None, fmt.Errorf("modulo by zero")
		}
		return Int(ln.Int() % rn.Int()), nil
	}
	return Float(math.Mod(ln.Float(), rn.Float())), nil
}

// power keeps an integer result when the exponent is a non-negative
// integer and both operands are integers, per spec.md's "power with
// integer exponent stays integer when safe" rule.
func power(l, r Value) (Value, error) {
	ln, lok := NumberOf(l)
	rn, rok := NumberOf(r)
	if !lok || !rok {
		return None, fmt.Errorf("cannot exponentiate %s by %s", l.Kind(), r.Kind())
	}
	if !ln.IsFloat() && !rn.IsFloat() && rn.Int() >= 0 {
		result := int64(1)
		base := ln.Int()
		for i := int64(0); i < rn.Int(); i++ {
			result *= base
		}
		return Int(result), nil
	}
	return Float(math.Pow(ln.Float(), rn.Float())), nil
}

func compareOp(op string, l, r Value) (Value, error) {
	ln, lok := NumberOf(l)
	rn, rok := NumberOf(r)
	var c int
	if lok && rok {
		c = ln.Cmp(rn)
	} else if l.Kind() == KindString && r.Kind() == KindString {
		switch {
		case l.AsString() < r.AsString():
			c = -1
		case l.AsString() > r.AsString():
			c = 1
		default:
			c = 0
		}
	} else {
		return None, fmt.Errorf("cannot compare %s and %s", l.Kind(), r.Kind())
	}
	switch op {
	case "<", "lt":
		return Bool(c < 0), nil
	case "<=", "le":
		return Bool(c <= 0), nil
	case ">", "gt":
		return Bool(c > 0), nil
	case ">=", "ge":
		return Bool(c >= 0), nil
	}
	return None, fmt.Errorf("unknown comparison operator %q", op)
}

// equalValues implements numeric-coercing equality: an Int and a
// Float compare by numeric value, strings and bytes compare bytewise.
func equalValues(l, r Value) bool {
	if ln, lok := NumberOf(l); lok {
		if rn, rok := NumberOf(r); rok {
			return ln.Cmp(rn) == 0
		}
	}
	if l.Kind() == KindNone || r.Kind() == KindNone {
		return l.Kind() == r.Kind()
	}
	if (l.Kind() == KindString || l.Kind() == KindBytes) && (r.Kind() == KindString || r.Kind() == KindBytes) {
		return l.AsString() == r.AsString()
	}
	if l.Kind() != r.Kind() {
		return false
	}
	switch l.Kind() {
	case KindBool:
		return l.AsBool() == r.AsBool()
	case KindList:
		ll, rl := l.AsList(), r.AsList()
		if len(ll) != len(rl) {
			return false
		}
		for i := range ll {
			if !equalValues(ll[i], rl[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func inOp(l, r Value) (Value, error) {
	switch r.Kind() {
	case KindList:
		for _, v := range r.AsList() {
			if equalValues(l, v) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case KindString, KindBytes:
		return Bool(containsSubstring(r.AsString(), l.String())), nil
	case KindMap:
		_, ok := r.AsMap()[l.String()]
		return Bool(ok), nil
	}
	return None, fmt.Errorf("cannot use 'in' with %s", r.Kind())
}

func containsSubstring(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

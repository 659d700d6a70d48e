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

	"github.com/nullfield-labs/xan/internal/column"
)

// ArityError carries the expected argument shape of a mismatched
// function call, per spec.md's "invalid-arity errors carry the
// expected shape" requirement.
type ArityError struct {
	Func     string
	Got      int
	Min      int
	Max      int // -1 for unbounded
	Strict   bool
}

func (e *ArityError) Error() string {
	switch {
	case e.Strict:
		return fmt.Sprintf("%s: expected exactly %d argument(s), got %d", e.Func, e.Min, e.Got)
	case e.Max < 0:
		return fmt.Sprintf("%s: expected at least %d argument(s), got %d", e.Func, e.Min, e.Got)
	default:
		return fmt.Sprintf("%s: expected %d-%d argument(s), got %d", e.Func, e.Min, e.Max, e.Got)
	}
}

// ConcretizeError wraps a concretization-time failure with the
// offending source text, per spec.md §7.
type ConcretizeError struct {
	Expr string
	Err  error
}

func (e *ConcretizeError) Error() string {
	if e.Expr != "" {
		return fmt.Sprintf("%s: %v", e.Expr, e.Err)
	}
	return e.Err.Error()
}

func (e *ConcretizeError) Unwrap() error { return e.Err }

// Context describes what's legal to reference during concretization:
// a header to bind identifiers against, and whether aggregation
// function names are legal (true inside `agg`/`groupby` programs).
type Context struct {
	Headers      *column.Headers
	AllowAgg bool
}

// AggCall records a recognized aggregation-function invocation found
// during concretization, for callers (the agg planner) that need to
// recover the call shape after the fact.
type AggCall struct {
	Name string
	Args []Node
	Name2 string // display name
}

// Concretize binds n against ctx, resolving identifiers to column
// positions, validating arity, folding statically evaluable subtrees
// into literals, and collapsing literal-conditioned branches.
func Concretize(n Node, ctx *Context) (Node, error) {
	c := &concretizer{ctx: ctx}
	out, err := c.walk(n, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type concretizer struct {
	ctx *Context
}

func (c *concretizer) walk(n Node, pipeUnderscoreOK bool) (Node, error) {
	switch t := n.(type) {
	case *Literal:
		return t, nil
	case *Underscore:
		if !pipeUnderscoreOK {
			return nil, fmt.Errorf("'_' used outside of a pipeline")
		}
		return t, nil
	case *Ident:
		return c.concretizeIdent(t)
	case *ColumnRef, *IndexRef:
		return n, nil
	case *BinOp:
		left, err := c.walk(t.Left, pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
		right, err := c.walk(t.Right, pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
		return foldBinOp(&BinOp{Op: t.Op, Left: left, Right: right}), nil
	case *UnOp:
		operand, err := c.walk(t.Operand, pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
		return foldUnOp(&UnOp{Op: t.Op, Operand: operand}), nil
	case *ListLit:
		items := make([]Node, len(t.Items))
		allLit := true
		for i, it := range t.Items {
			v, err := c.walk(it, pipeUnderscoreOK)
			if err != nil {
				return nil, err
			}
			items[i] = v
			if _, ok := v.(*Literal); !ok {
				allLit = false
			}
		}
		if allLit {
			vals := make([]Value, len(items))
			for i, it := range items {
				vals[i] = it.(*Literal).Value
			}
			return &Literal{Value: List(vals)}, nil
		}
		return &ListLit{Items: items}, nil
	case *MapLit:
		values := make([]Node, len(t.Values))
		allLit := true
		for i, v := range t.Values {
			out, err := c.walk(v, pipeUnderscoreOK)
			if err != nil {
				return nil, err
			}
			values[i] = out
			if _, ok := out.(*Literal); !ok {
				allLit = false
			}
		}
		if allLit {
			m := make(map[string]Value, len(values))
			for i, k := range t.Keys {
				m[k] = values[i].(*Literal).Value
			}
			return &Literal{Value: Map(m)}, nil
		}
		return &MapLit{Keys: t.Keys, Values: values}, nil
	case *Pipeline:
		return c.concretizePipeline(t, pipeUnderscoreOK)
	case *Call:
		return c.concretizeCall(t, pipeUnderscoreOK)
	}
	return nil, fmt.Errorf("unhandled node type %T", n)
}

func (c *concretizer) concretizeIdent(id *Ident) (Node, error) {
	if c.ctx == nil || c.ctx.Headers == nil {
		if id.Optional {
			return &Literal{Value: None}, nil
		}
		return nil, fmt.Errorf("unknown identifier %q", id.Name)
	}
	positions := c.ctx.Headers.ByName(id.Name)
	if len(positions) == 0 {
		if id.Optional {
			return &Literal{Value: None}, nil
		}
		return nil, fmt.Errorf("unknown column %q", id.Name)
	}
	return &ColumnRef{Pos: positions[0], Name: id.Name}, nil
}

// concretizePipeline substitutes Left's concretized form for every
// Underscore appearing (shallowly) within Right, or inserts it as the
// first argument when Right contains no Underscore. A bare identifier
// naming a known function becomes a unary call of that function.
func (c *concretizer) concretizePipeline(p *Pipeline, pipeUnderscoreOK bool) (Node, error) {
	left, err := c.walk(p.Left, pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}
	right := p.Right
	if id, ok := right.(*Ident); ok {
		if _, isFn := pureFunctions[id.Name]; isFn {
			right = &Call{Name: id.Name, Args: []Node{&Underscore{}}}
		} else if _, isFn := specialFunctions[id.Name]; isFn {
			right = &Call{Name: id.Name, Args: []Node{&Underscore{}}}
		}
	}
	call, ok := right.(*Call)
	if !ok {
		// Right isn't a call shape; concretize it directly with
		// Underscore resolved to Left, by substituting an
		// already-concretized Literal-or-node in place.
		sub := substituteUnderscore(right, left)
		return c.walk(sub, pipeUnderscoreOK)
	}
	if !containsUnderscore(call) {
		newArgs := append([]Node{&Underscore{}}, call.Args...)
		call = &Call{Name: call.Name, Args: newArgs, Named: call.Named}
	}
	sub := substituteUnderscore(call, left)
	return c.walk(sub, pipeUnderscoreOK)
}

func containsUnderscore(n Node) bool {
	found := false
	Walk(visitorFunc(func(n Node) Visitor {
		if _, ok := n.(*Underscore); ok {
			found = true
		}
		return visitorFunc(func(Node) Visitor { return nil })
	}), n)
	return found
}

type visitorFunc func(Node) Visitor

func (f visitorFunc) Visit(n Node) Visitor { return f(n) }

// substituteUnderscore replaces every Underscore node in n with
// replacement, without descending into nested Pipeline right-hand
// sides (those have their own underscore scope).
func substituteUnderscore(n Node, replacement Node) Node {
	switch t := n.(type) {
	case *Underscore:
		return replacement
	case *Call:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = substituteUnderscore(a, replacement)
		}
		var named map[string]Node
		if t.Named != nil {
			named = make(map[string]Node, len(t.Named))
			for k, v := range t.Named {
				named[k] = substituteUnderscore(v, replacement)
			}
		}
		return &Call{Name: t.Name, Args: args, Named: named}
	case *BinOp:
		return &BinOp{Op: t.Op, Left: substituteUnderscore(t.Left, replacement), Right: substituteUnderscore(t.Right, replacement)}
	case *UnOp:
		return &UnOp{Op: t.Op, Operand: substituteUnderscore(t.Operand, replacement)}
	case *ListLit:
		items := make([]Node, len(t.Items))
		for i, it := range t.Items {
			items[i] = substituteUnderscore(it, replacement)
		}
		return &ListLit{Items: items}
	case *MapLit:
		values := make([]Node, len(t.Values))
		for i, v := range t.Values {
			values[i] = substituteUnderscore(v, replacement)
		}
		return &MapLit{Keys: t.Keys, Values: values}
	case *Pipeline:
		return &Pipeline{Left: substituteUnderscore(t.Left, replacement), Right: t.Right}
	default:
		return n
	}
}

func (c *concretizer) concretizeCall(call *Call, pipeUnderscoreOK bool) (Node, error) {
	switch call.Name {
	case "if", "unless":
		return c.concretizeIf(call, pipeUnderscoreOK)
	case "and", "or":
		return c.concretizeShortCircuit(call, pipeUnderscoreOK)
	case "try":
		return c.concretizeTry(call, pipeUnderscoreOK)
	case "col", "col?":
		return c.concretizeDynCol(call, pipeUnderscoreOK)
	case "cols", "headers":
		return c.concretizeColsHeaders(call, pipeUnderscoreOK)
	case "map", "filter":
		return c.concretizeHigherOrder(call, pipeUnderscoreOK)
	case "index":
		if len(call.Args) != 0 {
			return nil, &ArityError{Func: "index", Strict: true, Min: 0, Got: len(call.Args)}
		}
		return &IndexRef{}, nil
	}

	if c.ctx != nil && c.ctx.AllowAgg {
		if _, ok := aggregatorNames[call.Name]; ok {
			// Aggregation calls are concretized by the agg planner,
			// which needs the raw argument trees; leave them as-is
			// here except for recursive concretization of the
			// sub-expressions (handled by the planner itself via
			// AggCallArgs).
			args := make([]Node, len(call.Args))
			for i, a := range call.Args {
				v, err := c.walk(a, pipeUnderscoreOK)
				if err != nil {
					return nil, err
				}
				args[i] = v
			}
			named, err := c.walkNamed(call.Named, pipeUnderscoreOK)
			if err != nil {
				return nil, err
			}
			return &Call{Name: call.Name, Args: args, Named: named}, nil
		}
	}

	spec, isSpecial := specialFunctions[call.Name]
	pfn, isPure := pureFunctions[call.Name]
	if !isSpecial && !isPure {
		return nil, fmt.Errorf("unknown function %q", call.Name)
	}

	args := make([]Node, len(call.Args))
	for i, a := range call.Args {
		v, err := c.walk(a, pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	named, err := c.walkNamed(call.Named, pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}

	var arity arityShape
	if isSpecial {
		arity = spec.Arity
	} else {
		arity = pfn.Arity
	}
	if err := arity.check(call.Name, len(args)); err != nil {
		return nil, err
	}
	if isSpecial && len(spec.Params) > 0 {
		args, err = reorderNamed(call.Name, args, named, spec.Params)
		if err != nil {
			return nil, err
		}
	} else if isPure && len(pfn.Params) > 0 {
		args, err = reorderNamed(call.Name, args, named, pfn.Params)
		if err != nil {
			return nil, err
		}
	} else if len(named) > 0 {
		return nil, fmt.Errorf("%s: does not accept named arguments", call.Name)
	}

	out := Node(&Call{Name: call.Name, Args: args})

	if isPure && !isStatefulSpecial(call.Name) {
		if allLiteral(args) {
			vals := make([]Value, len(args))
			for i, a := range args {
				vals[i] = a.(*Literal).Value
			}
			v, err := pfn.Fn(vals)
			if err == nil {
				return &Literal{Value: v}, nil
			}
		}
	}
	return out, nil
}

func allLiteral(args []Node) bool {
	for _, a := range args {
		if _, ok := a.(*Literal); !ok {
			return false
		}
	}
	return true
}

// isStatefulSpecial names pure-registered functions that must never be
// constant-folded at concretization time because their result depends
// on something other than their arguments. Anyone adding a clock- or
// entropy-backed builtin should extend this list.
func isStatefulSpecial(name string) bool {
	switch name {
	case "random", "uuid", "now":
		return true
	}
	return false
}

func (c *concretizer) walkNamed(named map[string]Node, pipeUnderscoreOK bool) (map[string]Node, error) {
	if named == nil {
		return nil, nil
	}
	out := make(map[string]Node, len(named))
	for k, v := range named {
		n, err := c.walk(v, pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func reorderNamed(fn string, positional []Node, named map[string]Node, params []string) ([]Node, error) {
	if len(named) == 0 {
		return positional, nil
	}
	out := append([]Node(nil), positional...)
	for k, v := range named {
		idx := -1
		for i, p := range params {
			if p == k {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s: unknown named argument %q", fn, k)
		}
		for len(out) <= idx {
			out = append(out, &Literal{Value: None})
		}
		out[idx] = v
	}
	return out, nil
}

func (c *concretizer) concretizeIf(call *Call, pipeUnderscoreOK bool) (Node, error) {
	if len(call.Args) < 2 || len(call.Args) > 3 {
		return nil, &ArityError{Func: call.Name, Min: 2, Max: 3, Got: len(call.Args)}
	}
	cond, err := c.walk(call.Args[0], pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}
	then, err := c.walk(call.Args[1], pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}
	var els Node = &Literal{Value: None}
	if len(call.Args) == 3 {
		els, err = c.walk(call.Args[2], pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
	}
	if lit, ok := cond.(*Literal); ok {
		truthy := lit.Value.Truthy()
		if call.Name == "unless" {
			truthy = !truthy
		}
		if truthy {
			return then, nil
		}
		return els, nil
	}
	return &Call{Name: call.Name, Args: []Node{cond, then, els}}, nil
}

func (c *concretizer) concretizeShortCircuit(call *Call, pipeUnderscoreOK bool) (Node, error) {
	if len(call.Args) != 2 {
		return nil, &ArityError{Func: call.Name, Strict: true, Min: 2, Got: len(call.Args)}
	}
	left, err := c.walk(call.Args[0], pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}
	right, err := c.walk(call.Args[1], pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}
	if lit, ok := left.(*Literal); ok {
		if call.Name == "and" && !lit.Value.Truthy() {
			return &Literal{Value: Bool(false)}, nil
		}
		if call.Name == "or" && lit.Value.Truthy() {
			return &Literal{Value: Bool(true)}, nil
		}
		if rl, ok := right.(*Literal); ok {
			if call.Name == "and" {
				return &Literal{Value: Bool(lit.Value.Truthy() && rl.Value.Truthy())}, nil
			}
			return &Literal{Value: Bool(lit.Value.Truthy() || rl.Value.Truthy())}, nil
		}
	}
	return &BinOp{Op: call.Name, Left: left, Right: right}, nil
}

func (c *concretizer) concretizeTry(call *Call, pipeUnderscoreOK bool) (Node, error) {
	if len(call.Args) != 1 {
		return nil, &ArityError{Func: "try", Strict: true, Min: 1, Got: len(call.Args)}
	}
	inner, err := c.walk(call.Args[0], pipeUnderscoreOK)
	if err != nil {
		// §4.4: try(expr) collapses to None at concretization time
		// if its argument fails to concretize.
		return &Literal{Value: None}, nil
	}
	return &Call{Name: "try", Args: []Node{inner}}, nil
}

func (c *concretizer) concretizeDynCol(call *Call, pipeUnderscoreOK bool) (Node, error) {
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return nil, &ArityError{Func: call.Name, Min: 1, Max: 2, Got: len(call.Args)}
	}
	args := make([]Node, len(call.Args))
	for i, a := range call.Args {
		v, err := c.walk(a, pipeUnderscoreOK)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return &Call{Name: call.Name, Args: args}, nil
}

func (c *concretizer) concretizeColsHeaders(call *Call, pipeUnderscoreOK bool) (Node, error) {
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return nil, &ArityError{Func: call.Name, Min: 1, Max: 2, Got: len(call.Args)}
	}
	if c.ctx == nil || c.ctx.Headers == nil {
		return nil, fmt.Errorf("%s: requires a bound header", call.Name)
	}
	resolve := func(n Node) (int, error) {
		v, err := c.walk(n, pipeUnderscoreOK)
		if err != nil {
			return 0, err
		}
		lit, ok := v.(*Literal)
		if !ok {
			return 0, fmt.Errorf("%s: arguments must be statically known", call.Name)
		}
		switch lit.Value.Kind() {
		case KindInt:
			pos, ok := c.ctx.Headers.Pos(int(lit.Value.AsInt()))
			if !ok {
				return 0, fmt.Errorf("%s: position out of range", call.Name)
			}
			return pos, nil
		case KindString:
			positions := c.ctx.Headers.ByName(lit.Value.AsString())
			if len(positions) == 0 {
				return 0, fmt.Errorf("%s: unknown column %q", call.Name, lit.Value.AsString())
			}
			return positions[0], nil
		}
		return 0, fmt.Errorf("%s: invalid column reference", call.Name)
	}
	first, err := resolve(call.Args[0])
	if err != nil {
		return nil, err
	}
	last := first
	if len(call.Args) == 2 {
		last, err = resolve(call.Args[1])
		if err != nil {
			return nil, err
		}
	} else {
		last = c.ctx.Headers.Len() - 1
	}
	step := 1
	if last < first {
		step = -1
	}
	var items []Value
	for i := first; ; i += step {
		if call.Name == "headers" {
			items = append(items, Str(c.ctx.Headers.Name(i)))
		} else {
			items = append(items, List([]Value{Int(int64(i)), Str(c.ctx.Headers.Name(i))}))
		}
		if i == last {
			break
		}
	}
	if call.Name == "headers" {
		return &Literal{Value: List(items)}, nil
	}
	return &Call{Name: "cols", Args: []Node{&Literal{Value: List(items)}}}, nil
}

// concretizeHigherOrder concretizes map/filter's second argument as
// an ordinary expression in which `_` is bound to the element under
// consideration, reusing the pipeline's own underscore mechanism
// instead of a separate arrow-lambda grammar (the distilled spec
// names "a single-argument lambda body" but does not fix its
// surface syntax; original_source's higher_order_fn! macro binds a
// single implicit value the same way a moonblade pipeline does, so
// `map(col, _ * 2)` is the natural rendering here).
func (c *concretizer) concretizeHigherOrder(call *Call, pipeUnderscoreOK bool) (Node, error) {
	if len(call.Args) != 2 {
		return nil, &ArityError{Func: call.Name, Strict: true, Min: 2, Got: len(call.Args)}
	}
	list, err := c.walk(call.Args[0], pipeUnderscoreOK)
	if err != nil {
		return nil, err
	}
	body, err := c.walk(call.Args[1], true)
	if err != nil {
		return nil, err
	}
	return &Call{Name: call.Name, Args: []Node{list, body}}, nil
}

// IndexRef is produced by concretizing `index()`.
type IndexRef struct{}

func (*IndexRef) node() {}

func (i *IndexRef) rewrite(Rewriter) Node { return i }

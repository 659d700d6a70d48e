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
	"regexp"
	"strconv"
	"strings"

	utf8x "github.com/nullfield-labs/xan/utf8"
)

// arityShape mirrors spec.md §4.4's three arity error shapes: strict
// (exactly Min), minimum-only (Max < 0), or an inclusive range.
type arityShape struct {
	Min, Max int
	Strict   bool
}

func (a arityShape) check(name string, got int) error {
	switch {
	case a.Strict:
		if got != a.Min {
			return &ArityError{Func: name, Strict: true, Min: a.Min, Got: got}
		}
	case a.Max < 0:
		if got < a.Min {
			return &ArityError{Func: name, Min: a.Min, Max: -1, Got: got}
		}
	default:
		if got < a.Min || got > a.Max {
			return &ArityError{Func: name, Min: a.Min, Max: a.Max, Got: got}
		}
	}
	return nil
}

func exactly(n int) arityShape   { return arityShape{Min: n, Max: n, Strict: true} }
func atLeast(n int) arityShape   { return arityShape{Min: n, Max: -1} }
func between(a, b int) arityShape { return arityShape{Min: a, Max: b} }

// PureFunc is a bound-argument function: it receives already-evaluated
// values and returns a value, with no access to evaluation context.
// These are the functions concretization is allowed to constant-fold.
type PureFunc struct {
	Arity  arityShape
	Params []string // named-argument slot order, if any
	Fn     func(args []Value) (Value, error)
}

// SpecialFunc needs the raw concretized arguments and the evaluation
// context (control flow, column introspection, higher-order
// semantics); its behavior lives in evalCall, this table only
// records its arity/param shape for the concretizer.
type SpecialFunc struct {
	Arity  arityShape
	Params []string
}

var specialFunctions = map[string]SpecialFunc{
	"if":     {Arity: between(2, 3)},
	"unless": {Arity: between(2, 3)},
	"try":    {Arity: exactly(1)},
	"col":    {Arity: between(1, 2)},
	"col?":   {Arity: between(1, 2)},
	"cols":   {Arity: between(1, 2)},
	"headers": {Arity: between(1, 2)},
	"map":    {Arity: exactly(2)},
	"filter": {Arity: exactly(2)},
	"index":  {Arity: exactly(0)},
}

// aggregatorNames are legal only inside an `AllowAgg` concretization
// context (agg/groupby programs); the agg planner owns their actual
// semantics.
var aggregatorNames = map[string]bool{
	"all": true, "any": true,
	"count": true, "ratio": true, "percentage": true,
	"sum": true, "mean": true, "avg": true,
	"min": true, "max": true, "argmin": true, "argmax": true,
	"top": true, "argtop": true,
	"first": true, "last": true,
	"lex_first": true, "lex_last": true,
	"earliest": true, "latest": true,
	"cardinality": true, "mode": true, "modes": true, "distinct_values": true, "most_common": true, "most_common_values": true,
	"median": true, "quantile": true, "q1": true, "q2": true, "q3": true, "variance": true, "var": true, "stddev": true, "stdev": true,
	"var_pop": true, "stddev_pop": true,
	"covariance": true, "correlation": true, "corr": true,
	"approx_cardinality": true, "approx_quantile": true,
	"type": true, "types": true,
	"values": true,
}

// IsAggregatorName reports whether name is legal only inside an
// aggregation program; the agg package's planner owns the actual
// family/method mapping.
func IsAggregatorName(name string) bool { return aggregatorNames[name] }

var pureFunctions = map[string]PureFunc{
	"len": {Arity: exactly(1), Fn: func(a []Value) (Value, error) {
		switch a[0].Kind() {
		case KindString, KindBytes:
			return Int(int64(utf8x.ValidStringLength(a[0].AsBytes()))), nil
		case KindList:
			return Int(int64(len(a[0].AsList()))), nil
		case KindMap:
			return Int(int64(len(a[0].AsMap()))), nil
		}
		return None, fmt.Errorf("len: unsupported type %s", a[0].Kind())
	}},
	"trim": {Arity: between(1, 2), Fn: func(a []Value) (Value, error) {
		cut := " \t\r\n"
		if len(a) == 2 {
			cut = a[1].AsString()
		}
		return Str(strings.Trim(a[0].AsString(), cut)), nil
	}},
	"ltrim": {Arity: between(1, 2), Fn: func(a []Value) (Value, error) {
		cut := " \t\r\n"
		if len(a) == 2 {
			cut = a[1].AsString()
		}
		return Str(strings.TrimLeft(a[0].AsString(), cut)), nil
	}},
	"rtrim": {Arity: between(1, 2), Fn: func(a []Value) (Value, error) {
		cut := " \t\r\n"
		if len(a) == 2 {
			cut = a[1].AsString()
		}
		return Str(strings.TrimRight(a[0].AsString(), cut)), nil
	}},
	"lower": {Arity: exactly(1), Fn: func(a []Value) (Value, error) { return Str(strings.ToLower(a[0].AsString())), nil }},
	"upper": {Arity: exactly(1), Fn: func(a []Value) (Value, error) { return Str(strings.ToUpper(a[0].AsString())), nil }},
	"split": {Arity: between(1, 2), Params: []string{"string", "sep"}, Fn: func(a []Value) (Value, error) {
		sep := ","
		if len(a) == 2 {
			sep = a[1].AsString()
		}
		parts := strings.Split(a[0].AsString(), sep)
		vals := make([]Value, len(parts))
		for i, p := range parts {
			vals[i] = Str(p)
		}
		return List(vals), nil
	}},
	"join": {Arity: between(1, 2), Params: []string{"list", "sep"}, Fn: func(a []Value) (Value, error) {
		sep := ","
		if len(a) == 2 {
			sep = a[1].AsString()
		}
		parts := make([]string, len(a[0].AsList()))
		for i, v := range a[0].AsList() {
			parts[i] = v.String()
		}
		return Str(strings.Join(parts, sep)), nil
	}},
	"replace": {Arity: exactly(3), Fn: func(a []Value) (Value, error) {
		if a[1].Kind() == KindRegex {
			return Str(a[1].AsRegex().ReplaceAllString(a[0].AsString(), a[2].AsString())), nil
		}
		return Str(strings.ReplaceAll(a[0].AsString(), a[1].AsString(), a[2].AsString())), nil
	}},
	"contains": {Arity: exactly(2), Fn: func(a []Value) (Value, error) {
		if a[1].Kind() == KindRegex {
			return Bool(a[1].AsRegex().MatchString(a[0].AsString())), nil
		}
		return Bool(strings.Contains(a[0].AsString(), a[1].AsString())), nil
	}},
	"match": {Arity: exactly(2), Fn: func(a []Value) (Value, error) {
		re, ok := regexArg(a[1])
		if !ok {
			return None, fmt.Errorf("match: second argument must be a regex")
		}
		return Bool(re.MatchString(a[0].AsString())), nil
	}},
	"starts_with": {Arity: exactly(2), Fn: func(a []Value) (Value, error) {
		return Bool(strings.HasPrefix(a[0].AsString(), a[1].AsString())), nil
	}},
	"ends_with": {Arity: exactly(2), Fn: func(a []Value) (Value, error) {
		return Bool(strings.HasSuffix(a[0].AsString(), a[1].AsString())), nil
	}},
	"concat": {Arity: atLeast(1), Fn: func(a []Value) (Value, error) {
		var b strings.Builder
		for _, v := range a {
			b.WriteString(v.String())
		}
		return Str(b.String()), nil
	}},
	"coalesce": {Arity: atLeast(1), Fn: func(a []Value) (Value, error) {
		for _, v := range a {
			if !v.IsNone() {
				return v, nil
			}
		}
		return None, nil
	}},
	"typeof": {Arity: exactly(1), Fn: func(a []Value) (Value, error) { return Str(a[0].Kind().String()), nil }},
	"err": {Arity: exactly(1), Fn: func(a []Value) (Value, error) {
		return None, fmt.Errorf("%s", a[0].AsString())
	}},
	"copy": {Arity: exactly(1), Fn: func(a []Value) (Value, error) { return deepCopy(a[0]), nil }},
	"get": {Arity: between(2, 3), Fn: func(a []Value) (Value, error) {
		v, err := getIndex(a[0], a[1])
		if err != nil {
			if len(a) == 3 {
				return a[2], nil
			}
			return None, err
		}
		return v, nil
	}},
	"slice": {Arity: exactly(3), Fn: func(a []Value) (Value, error) { return sliceValue(a[0], a[1], a[2]) }},
	"abs": {Arity: exactly(1), Fn: numFn1(math.Abs, func(i int64) int64 {
		if i < 0 {
			return -i
		}
		return i
	})},
	"ceil":  {Arity: exactly(1), Fn: floatFn1(math.Ceil)},
	"floor": {Arity: exactly(1), Fn: floatFn1(math.Floor)},
	"round": {Arity: between(1, 2), Fn: func(a []Value) (Value, error) {
		n, ok := NumberOf(a[0])
		if !ok {
			return None, fmt.Errorf("round: not a number")
		}
		digits := 0
		if len(a) == 2 {
			digits = int(a[1].AsInt())
		}
		mul := math.Pow(10, float64(digits))
		return Float(math.Round(n.Float()*mul) / mul), nil
	}},
	"sqrt": {Arity: exactly(1), Fn: floatFn1(math.Sqrt)},
	"log":  {Arity: exactly(1), Fn: floatFn1(math.Log)},
	"log2": {Arity: exactly(1), Fn: floatFn1(math.Log2)},
	"exp":  {Arity: exactly(1), Fn: floatFn1(math.Exp)},
	"min": {Arity: atLeast(1), Fn: func(a []Value) (Value, error) { return numericFold(a, func(x, y Number) bool { return x.Cmp(y) < 0 }) }},
	"max": {Arity: atLeast(1), Fn: func(a []Value) (Value, error) { return numericFold(a, func(x, y Number) bool { return x.Cmp(y) > 0 }) }},
	"to_int": {Arity: exactly(1), Fn: func(a []Value) (Value, error) {
		switch a[0].Kind() {
		case KindInt:
			return a[0], nil
		case KindFloat:
			return Int(int64(a[0].AsFloat())), nil
		case KindString, KindBytes:
			i, err := strconv.ParseInt(strings.TrimSpace(a[0].AsString()), 10, 64)
			if err != nil {
				return None, fmt.Errorf("to_int: cannot parse %q", a[0].AsString())
			}
			return Int(i), nil
		case KindBool:
			if a[0].AsBool() {
				return Int(1), nil
			}
			return Int(0), nil
		}
		return None, fmt.Errorf("to_int: unsupported type %s", a[0].Kind())
	}},
	"to_float": {Arity: exactly(1), Fn: func(a []Value) (Value, error) {
		if n, ok := NumberOf(a[0]); ok {
			return Float(n.Float()), nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(a[0].AsString()), 64)
		if err != nil {
			return None, fmt.Errorf("to_float: cannot parse %q", a[0].AsString())
		}
		return Float(f), nil
	}},
	"to_string": {Arity: exactly(1), Fn: func(a []Value) (Value, error) { return Str(a[0].String()), nil }},
	"is_empty": {Arity: exactly(1), Fn: func(a []Value) (Value, error) { return Bool(!a[0].Truthy()), nil }},
}

func regexArg(v Value) (*regexp.Regexp, bool) {
	if v.Kind() == KindRegex {
		return v.AsRegex(), true
	}
	re, err := regexp.Compile(v.AsString())
	if err != nil {
		return nil, false
	}
	return re, true
}

func numFn1(ffn func(float64) float64, ifn func(int64) int64) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		n, ok := NumberOf(a[0])
		if !ok {
			return None, fmt.Errorf("not a number: %s", a[0].Kind())
		}
		if n.IsFloat() {
			return Float(ffn(n.Float())), nil
		}
		return Int(ifn(n.Int())), nil
	}
}

func floatFn1(f func(float64) float64) func([]Value) (Value, error) {
	return func(a []Value) (Value, error) {
		n, ok := NumberOf(a[0])
		if !ok {
			return None, fmt.Errorf("not a number: %s", a[0].Kind())
		}
		return Float(f(n.Float())), nil
	}
}

func numericFold(a []Value, better func(x, y Number) bool) (Value, error) {
	var best Number
	have := false
	for _, v := range a {
		n, ok := NumberOf(v)
		if !ok {
			return None, fmt.Errorf("not a number: %s", v.Kind())
		}
		if !have || better(n, best) {
			best = n
			have = true
		}
	}
	return best.ToValue(), nil
}

func deepCopy(v Value) Value {
	switch v.Kind() {
	case KindList:
		out := make([]Value, len(v.AsList()))
		for i, e := range v.AsList() {
			out[i] = deepCopy(e)
		}
		return List(out)
	case KindMap:
		out := make(map[string]Value, len(v.AsMap()))
		for k, e := range v.AsMap() {
			out[k] = deepCopy(e)
		}
		return Map(out)
	}
	return v
}

func getIndex(v, idx Value) (Value, error) {
	switch v.Kind() {
	case KindList:
		list := v.AsList()
		i := int(idx.AsInt())
		if i < 0 {
			i += len(list)
		}
		if i < 0 || i >= len(list) {
			return None, fmt.Errorf("get: index out of range")
		}
		return list[i], nil
	case KindMap:
		val, ok := v.AsMap()[idx.String()]
		if !ok {
			return None, fmt.Errorf("get: key %q not found", idx.String())
		}
		return val, nil
	case KindString, KindBytes:
		r := []rune(v.AsString())
		i := int(idx.AsInt())
		if i < 0 {
			i += len(r)
		}
		if i < 0 || i >= len(r) {
			return None, fmt.Errorf("get: index out of range")
		}
		return Str(string(r[i])), nil
	}
	return None, fmt.Errorf("get: unsupported type %s", v.Kind())
}

func sliceValue(v, from, to Value) (Value, error) {
	clampRange := func(n int) (int, int) {
		a, b := 0, n
		if !from.IsNone() {
			a = int(from.AsInt())
			if a < 0 {
				a += n
			}
		}
		if !to.IsNone() {
			b = int(to.AsInt())
			if b < 0 {
				b += n
			}
		}
		if a < 0 {
			a = 0
		}
		if b > n {
			b = n
		}
		if a > b {
			a = b
		}
		return a, b
	}
	switch v.Kind() {
	case KindList:
		list := v.AsList()
		a, b := clampRange(len(list))
		return List(append([]Value(nil), list[a:b]...)), nil
	case KindString, KindBytes:
		r := []rune(v.AsString())
		a, b := clampRange(len(r))
		return Str(string(r[a:b])), nil
	}
	return None, fmt.Errorf("slice: unsupported type %s", v.Kind())
}

// evalCall dispatches a concretized Call node: specials get their own
// control-flow-aware handling, pure functions evaluate their bound
// arguments through the shared dispatch table.
func evalCall(call *Call, ctx *Ctx) (Value, error) {
	switch call.Name {
	case "if", "unless":
		cond, err := Eval(call.Args[0], ctx)
		if err != nil {
			return None, evalErr(call.Name, err)
		}
		truthy := cond.Truthy()
		if call.Name == "unless" {
			truthy = !truthy
		}
		if truthy {
			return Eval(call.Args[1], ctx)
		}
		if len(call.Args) == 3 {
			return Eval(call.Args[2], ctx)
		}
		return None, nil
	case "try":
		v, err := Eval(call.Args[0], ctx)
		if err != nil {
			return None, nil
		}
		return v, nil
	case "col", "col?":
		return evalDynCol(call, ctx)
	case "cols":
		return evalCols(call, ctx)
	case "map":
		return evalMap(call, ctx)
	case "filter":
		return evalFilter(call, ctx)
	case "index":
		if !ctx.HasIdx {
			return None, evalErrf("index", "row index is not available in this context")
		}
		return Int(ctx.Index), nil
	}

	pfn, ok := pureFunctions[call.Name]
	if !ok {
		return None, evalErrf(call.Name, "unknown function")
	}
	args := make([]Value, len(call.Args))
	for i, a := range call.Args {
		v, err := Eval(a, ctx)
		if err != nil {
			return None, err
		}
		args[i] = v
	}
	v, err := pfn.Fn(args)
	if err != nil {
		return None, evalErr(call.Name, err)
	}
	return v, nil
}

func evalDynCol(call *Call, ctx *Ctx) (Value, error) {
	optional := call.Name == "col?"
	fail := func(err error) (Value, error) {
		if optional {
			return None, nil
		}
		return None, evalErr(call.Name, err)
	}
	nameOrPos, err := Eval(call.Args[0], ctx)
	if err != nil {
		return fail(err)
	}
	if ctx.Headers == nil {
		return fail(fmt.Errorf("no header bound"))
	}
	var pos int
	switch nameOrPos.Kind() {
	case KindInt:
		p, ok := ctx.Headers.Pos(int(nameOrPos.AsInt()))
		if !ok {
			return fail(fmt.Errorf("position out of range"))
		}
		pos = p
	case KindString, KindBytes:
		if len(call.Args) == 2 {
			nth, err := Eval(call.Args[1], ctx)
			if err != nil {
				return fail(err)
			}
			p, ok := ctx.Headers.ByNameNth(nameOrPos.AsString(), int(nth.AsInt()))
			if !ok {
				return fail(fmt.Errorf("column %q has no occurrence %d", nameOrPos.AsString(), nth.AsInt()))
			}
			pos = p
		} else {
			positions := ctx.Headers.ByName(nameOrPos.AsString())
			if len(positions) == 0 {
				return fail(fmt.Errorf("unknown column %q", nameOrPos.AsString()))
			}
			pos = positions[0]
		}
	default:
		return fail(fmt.Errorf("col: invalid column reference type %s", nameOrPos.Kind()))
	}
	if pos < 0 || pos >= len(ctx.Row) {
		return None, nil
	}
	return Bytes(ctx.Row[pos]), nil
}

func evalCols(call *Call, ctx *Ctx) (Value, error) {
	lit, ok := call.Args[0].(*Literal)
	if !ok {
		return None, evalErrf("cols", "internal: expected pre-resolved column list")
	}
	items := lit.Value.AsList()
	out := make([]Value, len(items))
	for i, it := range items {
		pair := it.AsList()
		pos := int(pair[0].AsInt())
		if pos < 0 || pos >= len(ctx.Row) {
			out[i] = None
			continue
		}
		out[i] = Bytes(ctx.Row[pos])
	}
	return List(out), nil
}

func evalMap(call *Call, ctx *Ctx) (Value, error) {
	listVal, err := Eval(call.Args[0], ctx)
	if err != nil {
		return None, err
	}
	items := listVal.AsList()
	out := make([]Value, len(items))
	for i, item := range items {
		v, err := Eval(call.Args[1], ctx.withLast(item))
		if err != nil {
			return None, err
		}
		out[i] = v
	}
	return List(out), nil
}

func evalFilter(call *Call, ctx *Ctx) (Value, error) {
	listVal, err := Eval(call.Args[0], ctx)
	if err != nil {
		return None, err
	}
	items := listVal.AsList()
	var out []Value
	for _, item := range items {
		v, err := Eval(call.Args[1], ctx.withLast(item))
		if err != nil {
			return None, err
		}
		if v.Truthy() {
			out = append(out, item)
		}
	}
	return List(out), nil
}

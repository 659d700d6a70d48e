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

package agg

import (
	"fmt"
	"strings"

	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// CallSpec is one user-visible aggregation call recovered from an
// aggregation-program string (`agg_fn(expr[, ...]) [as name]`,
// comma-separated), already concretized against a header.
type CallSpec struct {
	Name    string
	Args    []moonblade.Node
	Named   map[string]moonblade.Node
	Display string
}

// ParseProgram parses spec.md §4.6's aggregation-call grammar against
// headers, returning one CallSpec per call in source order.
func ParseProgram(src string, headers *column.Headers) ([]CallSpec, error) {
	named, err := moonblade.ParseNamedExprs(src)
	if err != nil {
		return nil, err
	}
	ctx := &moonblade.Context{Headers: headers, AllowAgg: true}
	out := make([]CallSpec, 0, len(named))
	for _, ne := range named {
		n, err := moonblade.Concretize(ne.Expr, ctx)
		if err != nil {
			return nil, &moonblade.ConcretizeError{Expr: ne.Name, Err: err}
		}
		call, ok := n.(*moonblade.Call)
		if !ok || !moonblade.IsAggregatorName(call.Name) {
			return nil, fmt.Errorf("%s: not an aggregation call", ne.Name)
		}
		out = append(out, CallSpec{Name: call.Name, Args: call.Args, Named: call.Named, Display: ne.Name})
	}
	return out, nil
}

// familyKind names the aggregator family a call routes to (not the
// call name itself: several call names share one family, per
// spec.md §4.6's "named by what they compute" rule).
type familyKind int

const (
	famAllAny familyKind = iota
	famCount
	famSum
	famExtent
	famTop
	famFirst
	famLast
	famLex
	famZoned
	famFreq
	famNumbers
	famWelford
	famCovar
	famApproxCard
	famApproxQuant
	famTypes
	famValues
)

var nameToFamily = map[string]familyKind{
	"all": famAllAny, "any": famAllAny,
	"count": famCount, "ratio": famCount, "percentage": famCount,
	"sum": famSum,
	"min": famExtent, "max": famExtent, "argmin": famExtent, "argmax": famExtent,
	"top": famTop, "argtop": famTop,
	"first": famFirst,
	"last":  famLast,
	"lex_first": famLex, "lex_last": famLex,
	"earliest": famZoned, "latest": famZoned, "elapsed": famZoned,
	"cardinality": famFreq, "mode": famFreq, "modes": famFreq,
	"distinct_values": famFreq, "most_common": famFreq, "most_common_values": famFreq,
	"median": famNumbers, "median_low": famNumbers, "median_high": famNumbers,
	"q1": famNumbers, "q2": famNumbers, "q3": famNumbers, "quantile": famNumbers,
	"mean": famWelford, "avg": famWelford, "var": famWelford, "variance": famWelford,
	"var_pop": famWelford, "stddev": famWelford, "stdev": famWelford, "stddev_pop": famWelford,
	"covariance": famCovar, "correlation": famCovar, "corr": famCovar,
	"approx_cardinality": famApproxCard,
	"approx_quantile":    famApproxQuant,
	"type": famTypes, "types": famTypes,
	"values": famValues,
}

const defaultApproxQuantileCapacity = 512

// ExecKey is a distinct evaluated expression (or expression pair,
// for covariance/correlation) shared by every user-visible call whose
// argument(s) concretize to the identical tree.
type ExecKey struct {
	Expr  moonblade.Node
	Expr2 moonblade.Node
}

func (k ExecKey) sig() string {
	s := describeNode(k.Expr)
	if k.Expr2 != nil {
		s += "::" + describeNode(k.Expr2)
	}
	return s
}

// describeNode renders a concretized node into a canonical string
// used as the execution-plan dedup key; two calls whose arguments
// concretize identically share one composite state, the planner
// dedup trick design note §9 calls the key performance mechanism.
func describeNode(n moonblade.Node) string {
	switch t := n.(type) {
	case nil:
		return "<nil>"
	case *moonblade.Literal:
		return "lit:" + t.Value.Kind().String() + ":" + t.Value.String()
	case *moonblade.ColumnRef:
		return fmt.Sprintf("col:%d", t.Pos)
	case *moonblade.BinOp:
		return "(" + describeNode(t.Left) + " " + t.Op + " " + describeNode(t.Right) + ")"
	case *moonblade.UnOp:
		return t.Op + describeNode(t.Operand)
	case *moonblade.ListLit:
		parts := make([]string, len(t.Items))
		for i, it := range t.Items {
			parts[i] = describeNode(it)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case *moonblade.MapLit:
		parts := make([]string, len(t.Values))
		for i, v := range t.Values {
			parts[i] = t.Keys[i] + ":" + describeNode(v)
		}
		return "{" + strings.Join(parts, ",") + "}"
	case *moonblade.Call:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = describeNode(a)
		}
		return t.Name + "(" + strings.Join(parts, ",") + ")"
	case *moonblade.Pipeline:
		return describeNode(t.Left) + "|" + describeNode(t.Right)
	case *moonblade.Underscore:
		return "_"
	case *moonblade.IndexRef:
		return "index()"
	default:
		return fmt.Sprintf("%T", n)
	}
}

// OutputEntry is one user-visible call in the output plan: it points
// at its execution-plan index and carries whatever small parameters
// its final-value readout needs (top-k capacity, quantile
// probability, elapsed-time unit, value separators).
type OutputEntry struct {
	Name      string
	ExecIdx   int
	Family    familyKind
	Method    string
	K         int
	Sep       string
	Unit      string
	Quantile  float64
	Secondary moonblade.Node
}

// Plan is the aligned execution-plan/output-plan pair the planner
// builds from a parsed aggregation program.
type Plan struct {
	Keys    []ExecKey
	Entries []OutputEntry
}

// BuildPlan builds the execution and output plans for calls,
// deduplicating shared expression keys and upgrading a plain
// min/max key to an argmin/argmax-capable one in place when needed.
func BuildPlan(calls []CallSpec) (*Plan, error) {
	p := &Plan{}
	keyIndex := map[string]int{}

	keyFor := func(expr, expr2 moonblade.Node) int {
		key := ExecKey{Expr: expr, Expr2: expr2}
		sig := key.sig()
		if idx, ok := keyIndex[sig]; ok {
			return idx
		}
		idx := len(p.Keys)
		p.Keys = append(p.Keys, key)
		keyIndex[sig] = idx
		return idx
	}

	for _, call := range calls {
		fam, ok := nameToFamily[call.Name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown aggregation function", call.Name)
		}
		if len(call.Args) == 0 {
			return nil, fmt.Errorf("%s: requires an expression argument", call.Name)
		}
		var expr2 moonblade.Node
		if fam == famCovar {
			if len(call.Args) < 2 {
				return nil, fmt.Errorf("%s: requires two expressions", call.Name)
			}
			expr2 = call.Args[1]
		}
		idx := keyFor(call.Args[0], expr2)
		entry := OutputEntry{Name: call.Display, ExecIdx: idx, Family: fam, Method: call.Name, Sep: "|"}

		switch fam {
		case famTop:
			entry.K = literalInt(call.Args, 1, 10)
			if call.Name == "argtop" && len(call.Args) >= 3 {
				entry.Secondary = call.Args[2]
			}
			if sep, ok := namedLiteralString(call.Named, "sep"); ok {
				entry.Sep = sep
			}
		case famNumbers:
			if call.Name == "quantile" {
				entry.Quantile = literalFloat(call.Args, 1, 0.5)
			}
		case famZoned:
			if unit, ok := namedLiteralString(call.Named, "unit"); ok {
				entry.Unit = unit
			}
		case famApproxQuant:
			entry.Quantile = literalFloat(call.Args, 1, 0.5)
		case famValues:
			if sep, ok := namedLiteralString(call.Named, "sep"); ok {
				entry.Sep = sep
			}
		}
		p.Entries = append(p.Entries, entry)
	}
	return p, nil
}

func literalInt(args []moonblade.Node, i, dflt int) int {
	if i >= len(args) {
		return dflt
	}
	lit, ok := args[i].(*moonblade.Literal)
	if !ok {
		return dflt
	}
	n, ok := moonblade.NumberOf(lit.Value)
	if !ok {
		return dflt
	}
	return int(n.Int())
}

func literalFloat(args []moonblade.Node, i int, dflt float64) float64 {
	if i >= len(args) {
		return dflt
	}
	lit, ok := args[i].(*moonblade.Literal)
	if !ok {
		return dflt
	}
	n, ok := moonblade.NumberOf(lit.Value)
	if !ok {
		return dflt
	}
	return n.Float()
}

func namedLiteralString(named map[string]moonblade.Node, key string) (string, bool) {
	n, ok := named[key]
	if !ok {
		return "", false
	}
	lit, ok := n.(*moonblade.Literal)
	if !ok {
		return "", false
	}
	return lit.Value.String(), true
}

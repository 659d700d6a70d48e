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
	"testing"

	"github.com/nullfield-labs/xan/internal/column"
)

func evalSrc(t *testing.T, src string, headers *column.Headers, row []string) (Value, error) {
	t.Helper()
	n, err := ParseExpr(src)
	if err != nil {
		t.Fatalf("ParseExpr(%q): %v", src, err)
	}
	n, err = Concretize(n, &Context{Headers: headers})
	if err != nil {
		return None, err
	}
	var r Row
	if row != nil {
		r = RowOf(row)
	}
	return Eval(n, &Ctx{Row: r, Headers: headers})
}

func TestEvalArithmetic(t *testing.T) {
	testcases := []struct {
		expr string
		want Value
	}{
		{"1 + 2", Int(3)},
		{"1 + 2.5", Float(3.5)},
		{"7 // 2", Int(3)},
		{"-7 // 2", Int(-4)},
		{"7 % 3", Int(1)},
		{"-7 % 3", Int(-1)},
		{"2 ** 10", Int(1024)},
		{"2 ** 0.5", Float(1.4142135623730951)},
		{"2 ** 3 ** 2", Int(512)}, // right-associative: 2 ** (3 ** 2)
		{"1 / 2", Float(0.5)},
		{`"a" + "b"`, Str("ab")},
		{`[1, 2] ++ [3]`, List([]Value{Int(1), Int(2), Int(3)})},
		{"!false", Bool(true)},
		{"-5", Int(-5)},
	}
	for _, tc := range testcases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := evalSrc(t, tc.expr, nil, nil)
			if err != nil {
				t.Fatalf("eval(%q): %v", tc.expr, err)
			}
			if got.Kind() != tc.want.Kind() || got.String() != tc.want.String() {
				t.Errorf("eval(%q) = %v (%s); want %v (%s)", tc.expr, got, got.Kind(), tc.want, tc.want.Kind())
			}
		})
	}
}

func TestEvalComparisonAndEquality(t *testing.T) {
	testcases := []struct {
		expr string
		want bool
	}{
		{"1 < 2", true},
		{"2 <= 2", true},
		{"1 == 1.0", true},
		{"1 != 2", true},
		{`"a" lt "b"`, true},
		{"1 in [1, 2, 3]", true},
		{"4 not in [1, 2, 3]", true},
		{`"ell" in "hello"`, true},
		// `in`/`not in` and `< <= > >=` are a single flat precedence
		// tier (spec.md §4.3): `1 < 2 in [true]` must parse as
		// `(1 < 2) in [true]`, which is true, not `1 < (2 in
		// [true])`, which would be false.
		{"1 < 2 in [true]", true},
		{"5 in [1, 2, 5] >= false", true},
	}
	for _, tc := range testcases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := evalSrc(t, tc.expr, nil, nil)
			if err != nil {
				t.Fatalf("eval(%q): %v", tc.expr, err)
			}
			if got.AsBool() != tc.want {
				t.Errorf("eval(%q) = %v; want %v", tc.expr, got.AsBool(), tc.want)
			}
		})
	}
}

// TestEvalPipelineUnderscore exercises spec.md §8 scenario 4: a
// pipeline threads its left-hand value into the underscore
// placeholder of the call on its right.
func TestEvalPipelineUnderscore(t *testing.T) {
	h := column.NewHeaders([]string{"name"})
	got, err := evalSrc(t, "trim(name) | len", h, []string{"  John  "})
	if err != nil {
		t.Fatal(err)
	}
	if got.AsInt() != 4 {
		t.Errorf("trim(name) | len = %v; want 4", got)
	}
}

// TestEvalPipelineBareIdent covers the "bare identifier on the
// right-hand side becomes a call with the piped value as its sole
// argument" rule from spec.md §4.3.
func TestEvalPipelineBareIdent(t *testing.T) {
	got, err := evalSrc(t, `"  hi  " | trim`, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.AsString() != "hi" {
		t.Errorf("got %q; want %q", got.AsString(), "hi")
	}
}

func TestEvalIfUnless(t *testing.T) {
	h := column.NewHeaders([]string{"x"})
	got, err := evalSrc(t, "if(x > 5, 'big', 'small')", h, []string{"10"})
	if err != nil {
		t.Fatal(err)
	}
	if got.AsString() != "big" {
		t.Errorf("got %q; want big", got.AsString())
	}

	got, err = evalSrc(t, "unless(x > 5, 'big', 'small')", h, []string{"10"})
	if err != nil {
		t.Fatal(err)
	}
	if got.AsString() != "small" {
		t.Errorf("got %q; want small", got.AsString())
	}
}

func TestConcretizeFoldsLiteralCondition(t *testing.T) {
	n, err := ParseExpr("if(true, 1, 2)")
	if err != nil {
		t.Fatal(err)
	}
	n, err = Concretize(n, &Context{})
	if err != nil {
		t.Fatal(err)
	}
	lit, ok := n.(*Literal)
	if !ok {
		t.Fatalf("expected literal-folded node, got %T", n)
	}
	if lit.Value.AsInt() != 1 {
		t.Errorf("got %v; want 1", lit.Value)
	}
}

func TestConcretizeStaticFold(t *testing.T) {
	n, err := ParseExpr("1 + 2 * 3")
	if err != nil {
		t.Fatal(err)
	}
	n, err = Concretize(n, &Context{})
	if err != nil {
		t.Fatal(err)
	}
	lit, ok := n.(*Literal)
	if !ok {
		t.Fatalf("expected the whole expression to fold to a literal, got %T", n)
	}
	if lit.Value.AsInt() != 7 {
		t.Errorf("got %v; want 7", lit.Value)
	}
}

func TestConcretizeUnknownColumnOptional(t *testing.T) {
	h := column.NewHeaders([]string{"a"})
	n, err := ParseExpr("missing?")
	if err != nil {
		t.Fatal(err)
	}
	n, err = Concretize(n, &Context{Headers: h})
	if err != nil {
		t.Fatalf("missing? should concretize to None, got error: %v", err)
	}
	v, err := Eval(n, &Ctx{Row: RowOf([]string{"1"}), Headers: h})
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsNone() {
		t.Errorf("got %v; want None", v)
	}
}

func TestConcretizeUnknownColumnErrors(t *testing.T) {
	h := column.NewHeaders([]string{"a"})
	n, err := ParseExpr("missing")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Concretize(n, &Context{Headers: h}); err == nil {
		t.Error("expected an unknown-column error")
	}
}

func TestConcretizeArityError(t *testing.T) {
	n, err := ParseExpr("trim(1, 2, 3)")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Concretize(n, &Context{}); err == nil {
		t.Error("expected an arity error")
	}
}

func TestTryCollapsesFailedConcretize(t *testing.T) {
	h := column.NewHeaders([]string{"a"})
	n, err := ParseExpr("try(missing)")
	if err != nil {
		t.Fatal(err)
	}
	n, err = Concretize(n, &Context{Headers: h})
	if err != nil {
		t.Fatalf("try(...) should never fail to concretize, got: %v", err)
	}
	lit, ok := n.(*Literal)
	if !ok || !lit.Value.IsNone() {
		t.Errorf("try(missing) should concretize to the None literal, got %#v", n)
	}
}

func TestEvalListsAndMaps(t *testing.T) {
	got, err := evalSrc(t, "[1, 2, 3][1]", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.AsInt() != 2 {
		t.Errorf("got %v; want 2", got)
	}

	got, err = evalSrc(t, "[1, 2, 3, 4][1:3]", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 3}
	got2 := got.AsList()
	if len(got2) != len(want) {
		t.Fatalf("got %v; want %v", got2, want)
	}
	for i, w := range want {
		if got2[i].AsInt() != w {
			t.Errorf("slice[%d] = %v; want %d", i, got2[i], w)
		}
	}

	got, err = evalSrc(t, `{a: 1, "b": 2}`, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := got.AsMap()
	if m["a"].AsInt() != 1 || m["b"].AsInt() != 2 {
		t.Errorf("got %v; want map[a:1 b:2]", m)
	}
}

func TestEvalHigherOrder(t *testing.T) {
	got, err := evalSrc(t, "map([1, 2, 3], _ * 2)", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 4, 6}
	list := got.AsList()
	for i, w := range want {
		if list[i].AsInt() != w {
			t.Errorf("map[%d] = %v; want %d", i, list[i], w)
		}
	}

	got, err = evalSrc(t, "filter([1, 2, 3, 4], _ > 2)", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	wantF := []int64{3, 4}
	listF := got.AsList()
	if len(listF) != len(wantF) {
		t.Fatalf("got %v; want %v", listF, wantF)
	}
	for i, w := range wantF {
		if listF[i].AsInt() != w {
			t.Errorf("filter[%d] = %v; want %d", i, listF[i], w)
		}
	}
}

func TestEvalColumnRefAndIndex(t *testing.T) {
	h := column.NewHeaders([]string{"a", "b"})
	n, err := ParseExpr("a + index()")
	if err != nil {
		t.Fatal(err)
	}
	n, err = Concretize(n, &Context{Headers: h})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Eval(n, &Ctx{Row: RowOf([]string{"10", "20"}), Headers: h, Index: 5, HasIdx: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.AsInt() != 15 {
		t.Errorf("got %v; want 15", got)
	}
}

func TestEvalTryOnRuntimeFailure(t *testing.T) {
	h := column.NewHeaders([]string{"a"})
	got, err := evalSrc(t, "try(1 // a)", h, []string{"0"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsNone() {
		t.Errorf("got %v; want None (runtime error swallowed by try)", got)
	}
}

func TestParseNamedExprs(t *testing.T) {
	exprs, err := ParseNamedExprs("1 + 1 as total, trim(x) as y")
	if err != nil {
		t.Fatal(err)
	}
	if len(exprs) != 2 {
		t.Fatalf("got %d named exprs; want 2", len(exprs))
	}
	if exprs[0].Name != "total" || exprs[1].Name != "y" {
		t.Errorf("got names %q, %q; want total, y", exprs[0].Name, exprs[1].Name)
	}
}

func TestParseNamedExprsDefaultsToSourceText(t *testing.T) {
	exprs, err := ParseNamedExprs("sum(x)")
	if err != nil {
		t.Fatal(err)
	}
	if exprs[0].Name != "sum(x)" {
		t.Errorf("got name %q; want %q", exprs[0].Name, "sum(x)")
	}
}

func TestLexRegexVsDivideDisambiguation(t *testing.T) {
	// A regex can only start where an operand is expected; "a / b" is
	// division, "match(a, /re/)" is a regex literal.
	if _, err := ParseExpr("a / b"); err != nil {
		t.Fatalf("a / b should parse as division: %v", err)
	}
	n, err := ParseExpr("/abc/i")
	if err != nil {
		t.Fatalf("regex literal should parse: %v", err)
	}
	lit, ok := n.(*Literal)
	if !ok || lit.Value.Kind() != KindRegex {
		t.Fatalf("expected a regex literal, got %#v", n)
	}
}

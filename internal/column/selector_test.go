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

package column

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	h := NewHeaders([]string{"a", "b", "c", "d", "dim_x", "dim_y", "x_count"})

	testcases := []struct {
		expr string
		want []int
	}{
		{"0", []int{0}},
		{"-1", []int{6}},
		{"-2", []int{5}},
		{"a", []int{0}},
		{`"a"`, []int{0}},
		{"a:d", []int{0, 1, 2, 3}},
		{"0:3", []int{0, 1, 2, 3}},
		{"3:-2", []int{3, 4, 5}},
		{":2", []int{0, 1, 2}},
		{"2:", []int{2, 3, 4, 5, 6}},
		{"dim_*", []int{4, 5}},
		{"*_count", []int{6}},
		{"*", []int{0, 1, 2, 3, 4, 5, 6}},
		{"!0:1", []int{2, 3, 4, 5, 6}},
		{"a,c", []int{0, 2}},
		{"3:1", []int{3, 2, 1}},
	}

	for _, tc := range testcases {
		t.Run(tc.expr, func(t *testing.T) {
			sel, err := Parse(tc.expr, h)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.expr, err)
			}
			if !reflect.DeepEqual(sel.Positions(), tc.want) {
				t.Errorf("Parse(%q) = %v; want %v", tc.expr, sel.Positions(), tc.want)
			}
		})
	}
}

func TestParseIndexedName(t *testing.T) {
	h := NewHeaders([]string{"foo", "foo", "bar"})

	sel, err := Parse("foo[1]", h)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Positions(), []int{1}) {
		t.Errorf("foo[1] = %v; want [1]", sel.Positions())
	}

	sel, err = Parse("foo[-1]", h)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sel.Positions(), []int{1}) {
		t.Errorf("foo[-1] = %v; want [1]", sel.Positions())
	}

	if _, err := Parse("foo[2]", h); err == nil {
		t.Error("expected error for out-of-range nth occurrence")
	}
}

func TestParseErrors(t *testing.T) {
	h := NewHeaders([]string{"a", "b"})

	for _, expr := range []string{"z", "5", `"unterminated`} {
		if _, err := Parse(expr, h); err == nil {
			t.Errorf("Parse(%q): expected error", expr)
		}
	}
}

func TestSelectionCollectAndExclude(t *testing.T) {
	h := NewHeaders([]string{"a", "b", "c"})
	sel, err := Parse("c,a", h)
	if err != nil {
		t.Fatal(err)
	}
	row := []string{"1", "2", "3"}
	got := sel.Collect(row)
	want := []string{"3", "1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Collect = %v; want %v", got, want)
	}

	excl := Exclude(h, []int{1})
	if !reflect.DeepEqual(excl.Positions(), []int{0, 2}) {
		t.Errorf("Exclude = %v; want [0 2]", excl.Positions())
	}
}

func TestSelectionSortedDedup(t *testing.T) {
	sel := NewSelection([]int{3, 1, 1, 2, 3})
	got := sel.SortedDedup().Positions()
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortedDedup = %v; want %v", got, want)
	}
}

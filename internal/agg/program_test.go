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
	"testing"

	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// TestUngroupedAggregation reproduces spec.md §8 scenario 1: sum,
// mean and max of retweets = [3, 10, 2, 7, 8] should be 30, 6.0, 10.
func TestUngroupedAggregation(t *testing.T) {
	headers := column.NewHeaders([]string{"retweets"})
	calls, err := ParseProgram("sum(retweets) as s, mean(retweets) as m, max(retweets) as x", headers)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := BuildPlan(calls)
	if err != nil {
		t.Fatal(err)
	}
	// sum/mean/max over the same expression should share one
	// execution key, per spec.md design note §9.
	if len(plan.Keys) != 1 {
		t.Fatalf("expected 1 execution key, got %d", len(plan.Keys))
	}
	prog := NewProgram(plan, headers, nil)
	for i, v := range []string{"3", "10", "2", "7", "8"} {
		if err := prog.Step(moonblade.RowOf([]string{v}), int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	prog.Finalize(false)
	names, vals, err := prog.Emit()
	if err != nil {
		t.Fatal(err)
	}
	wantNames := []string{"s", "m", "x"}
	for i, n := range wantNames {
		if names[i] != n {
			t.Fatalf("name[%d] = %q, want %q", i, names[i], n)
		}
	}
	if vals[0].AsInt() != 30 {
		t.Fatalf("sum = %v, want 30", vals[0])
	}
	if vals[1].AsFloat() != 6.0 {
		t.Fatalf("mean = %v, want 6.0", vals[1])
	}
	if vals[2].AsInt() != 10 {
		t.Fatalf("max = %v, want 10", vals[2])
	}
}

// TestGroupedAggregationWithTotal reproduces spec.md §8 scenario 2.
func TestGroupedAggregationWithTotal(t *testing.T) {
	headers := column.NewHeaders([]string{"user", "n"})
	calls, err := ParseProgram("sum(n) as count", headers)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := BuildPlan(calls)
	if err != nil {
		t.Fatal(err)
	}
	totalCalls, err := ParseProgram("sum(n) as total", headers)
	if err != nil {
		t.Fatal(err)
	}
	totalPlan, err := BuildPlan(totalCalls)
	if err != nil {
		t.Fatal(err)
	}

	gt := NewGroupTable(plan, headers)
	total := NewProgram(totalPlan, headers, nil)

	rows := []struct {
		user string
		n    string
	}{
		{"marcy", "5"}, {"john", "2"}, {"marcy", "6"}, {"john", "4"},
	}
	for i, r := range rows {
		row := moonblade.RowOf([]string{r.user, r.n})
		if err := gt.Step(r.user, []string{r.user}, row, int64(i)); err != nil {
			t.Fatal(err)
		}
		if err := total.Step(row, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	gt.Finalize(false)
	total.Finalize(false)

	_, groupRows, err := gt.Emit()
	if err != nil {
		t.Fatal(err)
	}
	if len(groupRows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groupRows))
	}
	// insertion-clustered order: marcy first-seen before john.
	if groupRows[0].Key[0] != "marcy" || groupRows[0].Values[0].AsInt() != 11 {
		t.Fatalf("group 0 = %+v, want marcy,11", groupRows[0])
	}
	if groupRows[1].Key[0] != "john" || groupRows[1].Values[0].AsInt() != 6 {
		t.Fatalf("group 1 = %+v, want john,6", groupRows[1])
	}

	_, totalVals, err := total.Emit()
	if err != nil {
		t.Fatal(err)
	}
	if totalVals[0].AsInt() != 17 {
		t.Fatalf("total = %v, want 17", totalVals[0])
	}
}

// TestArgminArgmaxUpgrade confirms min and argmin over the same key
// share a single ArgExtent, per design note §9.
func TestArgminArgmaxUpgrade(t *testing.T) {
	headers := column.NewHeaders([]string{"x"})
	calls, err := ParseProgram("min(x) as mn, argmin(x) as amn", headers)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := BuildPlan(calls)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Keys) != 1 {
		t.Fatalf("expected 1 execution key, got %d", len(plan.Keys))
	}
	prog := NewProgram(plan, headers, nil)
	for i, v := range []string{"5", "1", "9"} {
		if err := prog.Step(moonblade.RowOf([]string{v}), int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	prog.Finalize(false)
	_, vals, err := prog.Emit()
	if err != nil {
		t.Fatal(err)
	}
	if vals[0].AsInt() != 1 {
		t.Fatalf("min = %v, want 1", vals[0])
	}
	if vals[1].AsInt() != 1 {
		t.Fatalf("argmin = %v, want row index 1", vals[1])
	}
}

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

package window

import (
	"testing"

	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// TestRanks reproduces spec.md §8 scenario 5: over x = [10,20,10,40,30],
// dense_rank(x) = [1,2,1,4,3], rank(x) = [1,3,2,5,4] (ties broken by
// original position), and ntile(2, x) = [1,1,1,2,2].
func TestRanks(t *testing.T) {
	headers := column.NewHeaders([]string{"x"})
	calls, err := ParseProgram("dense_rank(x) as dr, rank(x) as r, ntile(2, x) as nt", headers)
	if err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(calls, headers)

	rows := make([]moonblade.Row, 5)
	for i, v := range []string{"10", "20", "10", "40", "30"} {
		rows[i] = moonblade.RowOf([]string{v})
	}

	names, out, err := runner.Run(rows)
	if err != nil {
		t.Fatal(err)
	}
	wantNames := []string{"dr", "r", "nt"}
	for i, n := range wantNames {
		if names[i] != n {
			t.Fatalf("name[%d] = %q, want %q", i, names[i], n)
		}
	}

	wantDenseRank := []int64{1, 2, 1, 4, 3}
	wantRank := []int64{1, 3, 2, 5, 4}
	wantNtile := []int64{1, 1, 1, 2, 2}
	for i := range rows {
		if got := out[i][0].AsInt(); got != wantDenseRank[i] {
			t.Errorf("dense_rank[%d] = %d, want %d", i, got, wantDenseRank[i])
		}
		if got := out[i][1].AsInt(); got != wantRank[i] {
			t.Errorf("rank[%d] = %d, want %d", i, got, wantRank[i])
		}
		if got := out[i][2].AsInt(); got != wantNtile[i] {
			t.Errorf("ntile[%d] = %d, want %d", i, got, wantNtile[i])
		}
	}
}

// TestLagLeadCumsum exercises the row-relative functions against a
// short, hand-checkable series.
func TestLagLeadCumsum(t *testing.T) {
	headers := column.NewHeaders([]string{"x"})
	calls, err := ParseProgram("lag(x) as lg, lead(x) as ld, cumsum(x) as cs, row_number() as rn", headers)
	if err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(calls, headers)

	rows := make([]moonblade.Row, 4)
	for i, v := range []string{"1", "2", "3", "4"} {
		rows[i] = moonblade.RowOf([]string{v})
	}

	_, out, err := runner.Run(rows)
	if err != nil {
		t.Fatal(err)
	}
	if !out[0][0].IsNone() {
		t.Fatalf("lag[0] = %v, want none", out[0][0])
	}
	if got := out[1][0].String(); got != "1" {
		t.Fatalf("lag[1] = %q, want \"1\"", got)
	}
	if !out[3][1].IsNone() {
		t.Fatalf("lead[3] = %v, want none", out[3][1])
	}
	wantCumsum := []int64{1, 3, 6, 10}
	for i, want := range wantCumsum {
		if got := out[i][2].AsInt(); got != want {
			t.Errorf("cumsum[%d] = %d, want %d", i, got, want)
		}
	}
	for i := range rows {
		if got := out[i][3].AsInt(); got != int64(i+1) {
			t.Errorf("row_number[%d] = %d, want %d", i, got, i+1)
		}
	}
}

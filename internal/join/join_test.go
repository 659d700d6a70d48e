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

package join

import (
	"reflect"
	"testing"
)

// sliceReader is an in-memory Reader for tests.
type sliceReader struct {
	headers []string
	rows    [][]string
	pos     int
}

func (r *sliceReader) Headers() []string { return r.headers }

func (r *sliceReader) Next() ([]string, bool, error) {
	if r.pos >= len(r.rows) {
		return nil, false, nil
	}
	row := r.rows[r.pos]
	r.pos++
	return row, true, nil
}

// TestInnerJoinWithDuplicates reproduces spec.md §8 scenario 3: left
// (k,v): (a,1),(b,2),(a,3); right (k,w): (a,x),(c,y),(a,z). Expected
// output rows in order: (a,1,x),(a,1,z),(a,3,x),(a,3,z); b is omitted.
func TestInnerJoinWithDuplicates(t *testing.T) {
	left := &sliceReader{
		headers: []string{"k", "v"},
		rows:    [][]string{{"a", "1"}, {"b", "2"}, {"a", "3"}},
	}
	right := &sliceReader{
		headers: []string{"k", "w"},
		rows:    [][]string{{"a", "x"}, {"c", "y"}, {"a", "z"}},
	}

	var headers []string
	var rows [][]string
	err := Run(Inner, left, right, "k", "k", Options{}, func(h []string) {
		headers = h
	}, func(row []string) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	wantHeaders := []string{"k", "v", "k", "w"}
	if !reflect.DeepEqual(headers, wantHeaders) {
		t.Fatalf("headers = %v, want %v", headers, wantHeaders)
	}
	want := [][]string{
		{"a", "1", "a", "x"},
		{"a", "1", "a", "z"},
		{"a", "3", "a", "x"},
		{"a", "3", "a", "z"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestFullJoinPadsUnmatchedRows(t *testing.T) {
	left := &sliceReader{
		headers: []string{"k", "v"},
		rows:    [][]string{{"a", "1"}, {"b", "2"}},
	}
	right := &sliceReader{
		headers: []string{"k", "w"},
		rows:    [][]string{{"a", "x"}, {"c", "y"}},
	}

	var rows [][]string
	err := Run(Full, left, right, "k", "k", Options{}, func([]string) {}, func(row []string) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"a", "1", "a", "x"},
		{"", "", "c", "y"},
		{"b", "2", "", ""},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestSemiAntiJoin(t *testing.T) {
	left := &sliceReader{
		headers: []string{"k"},
		rows:    [][]string{{"a"}, {"b"}, {"c"}},
	}
	right := &sliceReader{
		headers: []string{"k"},
		rows:    [][]string{{"a"}, {"c"}},
	}

	var semiRows, antiRows [][]string
	left.pos = 0
	if err := Run(Semi, left, right, "k", "k", Options{}, func([]string) {}, func(row []string) error {
		semiRows = append(semiRows, row)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	left2 := &sliceReader{headers: left.headers, rows: left.rows}
	right2 := &sliceReader{headers: right.headers, rows: right.rows}
	if err := Run(Anti, left2, right2, "k", "k", Options{}, func([]string) {}, func(row []string) error {
		antiRows = append(antiRows, row)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	wantSemi := [][]string{{"a"}, {"c"}}
	wantAnti := [][]string{{"b"}}
	if !reflect.DeepEqual(semiRows, wantSemi) {
		t.Fatalf("semi = %v, want %v", semiRows, wantSemi)
	}
	if !reflect.DeepEqual(antiRows, wantAnti) {
		t.Fatalf("anti = %v, want %v", antiRows, wantAnti)
	}
}

func TestCrossJoin(t *testing.T) {
	left := &sliceReader{headers: []string{"a"}, rows: [][]string{{"1"}, {"2"}}}
	right := &sliceReader{headers: []string{"b"}, rows: [][]string{{"x"}, {"y"}}}

	var rows [][]string
	if err := Run(Cross, left, right, "", "", Options{}, func([]string) {}, func(row []string) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"1", "x"}, {"1", "y"}, {"2", "x"}, {"2", "y"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

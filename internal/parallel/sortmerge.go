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

package parallel

import "github.com/nullfield-labs/xan/heap"

// sortedChunk is one worker's already-sorted shard output, walked in
// order by the k-way merge below.
type sortedChunk struct {
	rows [][]string
	pos  int
}

// mergeHead is one chunk's current front row, tracked on the merge
// heap so the least chunk head is always at index 0.
type mergeHead struct {
	chunk int
	row   []string
}

// KWayMerge streams the stable merge of several independently sorted
// chunks (one per parallel-sort worker) using less as the row
// comparator, per spec.md §4.9's "for sort, each worker emits a sorted
// chunk, then a k-way merge streams the result". Ties preserve the
// chunk order passed in, which is itself the workers' shard order, so
// the merge remains stable with respect to original input order.
func KWayMerge(chunks [][][]string, less func(a, b []string) bool) [][]string {
	state := make([]*sortedChunk, len(chunks))
	for i, c := range chunks {
		state[i] = &sortedChunk{rows: c}
	}

	heapLess := func(a, b mergeHead) bool {
		if less(a.row, b.row) {
			return true
		}
		if less(b.row, a.row) {
			return false
		}
		return a.chunk < b.chunk
	}

	var h []mergeHead
	for i, s := range state {
		if s.pos < len(s.rows) {
			h = append(h, mergeHead{chunk: i, row: s.rows[s.pos]})
		}
	}
	heap.OrderSlice(h, heapLess)

	var out [][]string
	for len(h) > 0 {
		top := heap.PopSlice(&h, heapLess)
		out = append(out, top.row)
		s := state[top.chunk]
		s.pos++
		if s.pos < len(s.rows) {
			heap.PushSlice(&h, mergeHead{chunk: top.chunk, row: s.rows[s.pos]}, heapLess)
		}
	}
	return out
}

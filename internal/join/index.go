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

// Package join builds in-memory equi-join indices over CSV rows and
// implements spec.md §4.8's inner/left/right/full/semi/anti/cross
// join variants on top of them.
package join

import (
	"strings"

	"github.com/dchest/siphash"
	"github.com/nullfield-labs/xan/internal/column"
)

// hashKey0 and hashKey1 form the fixed siphash key used to hash join keys; the value
// only needs to be stable within one process run.
var hashKey0, hashKey1 uint64 = 0x6a616e6f696e6465, 0x7300000000000000

// indexNode is one row in the index's flat node vector. Nodes sharing
// a key form a singly-linked list in insertion order via next (-1
// terminates), mirroring the teacher's original chained-bucket index.
type indexNode struct {
	row     []string
	written bool
	next    int
}

// bucketEntry resolves one hash-table bucket to the actual key plus
// the head/tail node indices for that key's insertion-ordered chain;
// the key is kept alongside the hash to tolerate collisions.
type bucketEntry struct {
	key  []string
	head int
	tail int
}

// Index is a hash map from (optionally lower-cased) join key to a
// singly-linked, insertion-ordered chain of matching rows, per
// spec.md §4.8.
type Index struct {
	caseInsensitive bool
	nulls           bool
	buckets         map[uint64][]bucketEntry
	nodes           []indexNode
}

// NewIndex builds an empty index. caseInsensitive lower-cases every
// selected cell before hashing; nulls, when false, skips rows whose
// selected key is empty on every column.
func NewIndex(caseInsensitive, nulls bool) *Index {
	return &Index{
		caseInsensitive: caseInsensitive,
		nulls:           nulls,
		buckets:         make(map[uint64][]bucketEntry),
	}
}

func transform(s string, caseInsensitive bool) string {
	if caseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

func rowKey(sel *column.Selection, row []string, caseInsensitive bool) []string {
	cells := sel.Collect(row)
	key := make([]string, len(cells))
	for i, c := range cells {
		key[i] = transform(c, caseInsensitive)
	}
	return key
}

func allEmpty(key []string) bool {
	for _, c := range key {
		if c != "" {
			return false
		}
	}
	return true
}

func hashOf(key []string) uint64 {
	var b strings.Builder
	for _, c := range key {
		b.WriteString(c)
		b.WriteByte(0)
	}
	return siphash.Hash(hashKey0, hashKey1, []byte(b.String()))
}

func equalKey(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Add indexes row under sel's key, skipping it when the key is empty
// on every column and nulls is false.
func (ix *Index) Add(sel *column.Selection, row []string) {
	key := rowKey(sel, row, ix.caseInsensitive)
	if !ix.nulls && allEmpty(key) {
		return
	}
	h := hashOf(key)
	entries := ix.buckets[h]
	for i := range entries {
		if equalKey(entries[i].key, key) {
			idx := len(ix.nodes)
			ix.nodes = append(ix.nodes, indexNode{row: row, next: -1})
			ix.nodes[entries[i].tail].next = idx
			entries[i].tail = idx
			return
		}
	}
	idx := len(ix.nodes)
	ix.nodes = append(ix.nodes, indexNode{row: row, next: -1})
	ix.buckets[h] = append(entries, bucketEntry{key: key, head: idx, tail: idx})
}

// head returns the first node index of the chain matching sel's key
// against row, or -1 when no chain exists (or the key is null and
// nulls is disabled).
func (ix *Index) head(sel *column.Selection, row []string) int {
	key := rowKey(sel, row, ix.caseInsensitive)
	if !ix.nulls && allEmpty(key) {
		return -1
	}
	h := hashOf(key)
	for _, e := range ix.buckets[h] {
		if equalKey(e.key, key) {
			return e.head
		}
	}
	return -1
}

// ForEachMatch calls cb with each row in the chain matching sel's key
// against row, in insertion order. When markWritten is true, every
// visited node's written flag is flipped, per the full join's
// unmatched-row bookkeeping.
func (ix *Index) ForEachMatch(sel *column.Selection, row []string, markWritten bool, cb func(matched []string) error) (matched bool, err error) {
	i := ix.head(sel, row)
	for i != -1 {
		matched = true
		if markWritten {
			ix.nodes[i].written = true
		}
		if err := cb(ix.nodes[i].row); err != nil {
			return matched, err
		}
		i = ix.nodes[i].next
	}
	return matched, nil
}

// Unwritten returns every indexed row whose written flag was never
// set, in original insertion order, for a full join's tail of
// unmatched left rows.
func (ix *Index) Unwritten() [][]string {
	var out [][]string
	for _, n := range ix.nodes {
		if !n.written {
			out = append(out, n.row)
		}
	}
	return out
}

// KeySet is a simpler set-only index used by semi/anti joins, which
// only need membership, not the matched row itself.
type KeySet struct {
	caseInsensitive bool
	nulls           bool
	seen            map[uint64][][]string
}

// NewKeySet builds an empty key set.
func NewKeySet(caseInsensitive, nulls bool) *KeySet {
	return &KeySet{caseInsensitive: caseInsensitive, nulls: nulls, seen: make(map[uint64][][]string)}
}

// Add records row's key.
func (ks *KeySet) Add(sel *column.Selection, row []string) {
	key := rowKey(sel, row, ks.caseInsensitive)
	if !ks.nulls && allEmpty(key) {
		return
	}
	h := hashOf(key)
	for _, k := range ks.seen[h] {
		if equalKey(k, key) {
			return
		}
	}
	ks.seen[h] = append(ks.seen[h], key)
}

// Contains reports whether row's key (under sel) was previously added.
func (ks *KeySet) Contains(sel *column.Selection, row []string) bool {
	key := rowKey(sel, row, ks.caseInsensitive)
	if !ks.nulls && allEmpty(key) {
		return false
	}
	h := hashOf(key)
	for _, k := range ks.seen[h] {
		if equalKey(k, key) {
			return true
		}
	}
	return false
}

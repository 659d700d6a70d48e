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
	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// GroupRow is one emitted group: its key's column values, in
// selection order, followed by the aggregation output values.
type GroupRow struct {
	Key    []string
	Values []moonblade.Value
}

// GroupTable routes rows into per-group Programs keyed by a group-key
// string, an insertion-clustered hashmap per spec.md §3: groups are
// iterated in first-seen order, and within a group the output plan
// runs exactly as for the ungrouped case. Grouping is one of spec.md
// §4.9's non-parallelizable callers, so GroupTable carries no Merge.
type GroupTable struct {
	plan    *Plan
	headers *column.Headers
	groups  map[string]*Program
	keyVals map[string][]string
	order   []string
}

// NewGroupTable builds an empty group table for plan.
func NewGroupTable(plan *Plan, headers *column.Headers) *GroupTable {
	return &GroupTable{
		plan:    plan,
		headers: headers,
		groups:  map[string]*Program{},
		keyVals: map[string][]string{},
	}
}

func (g *GroupTable) groupFor(key string, keyVals []string) *Program {
	p, ok := g.groups[key]
	if !ok {
		p = NewProgram(g.plan, g.headers, nil)
		g.groups[key] = p
		g.keyVals[key] = keyVals
		g.order = append(g.order, key)
	}
	return p
}

// Step routes row into the group named by key (keyVals are the raw
// column values forming that key, retained for emission).
func (g *GroupTable) Step(key string, keyVals []string, row moonblade.Row, rowIndex int64) error {
	return g.groupFor(key, keyVals).Step(row, rowIndex)
}

// Finalize settles every group's composite state.
func (g *GroupTable) Finalize(parallel bool) {
	for _, k := range g.order {
		g.groups[k].Finalize(parallel)
	}
}

// Emit returns the output-plan's display names once, and one GroupRow
// per group in first-seen order.
func (g *GroupTable) Emit() ([]string, []GroupRow, error) {
	var names []string
	rows := make([]GroupRow, 0, len(g.order))
	for _, k := range g.order {
		n, vals, err := g.groups[k].Emit()
		if err != nil {
			return nil, nil, err
		}
		names = n
		rows = append(rows, GroupRow{Key: g.keyVals[k], Values: vals})
	}
	return names, rows, nil
}

// SortedGroupRunner implements spec.md §4.6's sorted-grouped mode:
// when the input is already sorted on the group key it keeps exactly
// one active group in memory (O(1) in the number of groups), emitting
// and reinitializing whenever the key changes.
type SortedGroupRunner struct {
	plan    *Plan
	headers *column.Headers
	active  *Program
	key     string
	keyVals []string
	started bool
}

// NewSortedGroupRunner builds an empty sorted-group runner for plan.
func NewSortedGroupRunner(plan *Plan, headers *column.Headers) *SortedGroupRunner {
	return &SortedGroupRunner{plan: plan, headers: headers}
}

// Step feeds one row. When the row's group key differs from the
// currently active group, the active group is finalized and returned
// (ok=true) before the row starts a new one.
func (r *SortedGroupRunner) Step(key string, keyVals []string, row moonblade.Row, rowIndex int64) (emitted GroupRow, names []string, ok bool, err error) {
	if r.started && key != r.key {
		r.active.Finalize(false)
		n, vals, e := r.active.Emit()
		if e != nil {
			return GroupRow{}, nil, false, e
		}
		emitted, names, ok = GroupRow{Key: r.keyVals, Values: vals}, n, true
		r.active = nil
	}
	if r.active == nil {
		r.active = NewProgram(r.plan, r.headers, nil)
		r.key = key
		r.keyVals = keyVals
		r.started = true
	}
	if err := r.active.Step(row, rowIndex); err != nil {
		return GroupRow{}, nil, false, err
	}
	return emitted, names, ok, nil
}

// Flush finalizes and emits whatever group is still active at
// end-of-stream.
func (r *SortedGroupRunner) Flush() (GroupRow, []string, bool, error) {
	if !r.started || r.active == nil {
		return GroupRow{}, nil, false, nil
	}
	r.active.Finalize(false)
	names, vals, err := r.active.Emit()
	if err != nil {
		return GroupRow{}, nil, false, err
	}
	return GroupRow{Key: r.keyVals, Values: vals}, names, true, nil
}

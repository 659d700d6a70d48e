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

// Program runs one Plan's execution/output plan over a row stream:
// for each record it evaluates every distinct execution key once and
// pushes the result into every aggregator family that key's composite
// bundles, per spec.md §4.6's streaming loop.
type Program struct {
	plan       *Plan
	composites []*composite
	headers    *column.Headers
	globals    moonblade.Globals
}

// NewProgram builds a fresh Program (all composites zeroed) for plan,
// evaluated against headers. A non-nil globals table is shared with
// window aggregators feeding values into this pass.
func NewProgram(plan *Plan, headers *column.Headers, globals moonblade.Globals) *Program {
	composites := make([]*composite, len(plan.Keys))
	for i := range composites {
		composites[i] = newComposite(i, plan.Entries)
	}
	return &Program{plan: plan, composites: composites, headers: headers, globals: globals}
}

// Clone returns a fresh Program sharing plan and headers but with
// zeroed composites, for per-shard or per-group instantiation.
func (p *Program) Clone() *Program {
	return NewProgram(p.plan, p.headers, p.globals)
}

// Step evaluates every execution key against row and folds the
// result(s) into that key's composite. When a key's expression
// returns a list, each element is fed separately, per spec.md §4.6
// point 1. Pair keys (covariance/correlation) evaluate both
// expressions together and skip the row unless both sides are
// non-null, enforced inside CovarianceWelford.AddPair.
func (p *Program) Step(row moonblade.Row, rowIndex int64) error {
	ctx := &moonblade.Ctx{Row: row, Headers: p.headers, Index: rowIndex, HasIdx: true, Globals: p.globals}
	for i, key := range p.plan.Keys {
		if key.Expr2 != nil {
			a, err := moonblade.Eval(key.Expr, ctx)
			if err != nil {
				return err
			}
			b, err := moonblade.Eval(key.Expr2, ctx)
			if err != nil {
				return err
			}
			p.composites[i].AddPair(a, b, rowIndex, row)
			continue
		}
		v, err := moonblade.Eval(key.Expr, ctx)
		if err != nil {
			return err
		}
		if v.Kind() == moonblade.KindList {
			for _, elem := range v.AsList() {
				p.composites[i].Add(elem, rowIndex, row)
			}
			continue
		}
		p.composites[i].Add(v, rowIndex, row)
	}
	return nil
}

// Finalize settles every composite's approximate/sort-once state.
// parallel is true when this Program is one of several shard
// partials about to be merged.
func (p *Program) Finalize(parallel bool) {
	for _, c := range p.composites {
		c.Finalize(parallel)
	}
}

// Merge folds o (built from the same Plan) into p.
func (p *Program) Merge(o *Program) {
	for i := range p.composites {
		p.composites[i].Merge(o.composites[i])
	}
}

// Emit reads every output-plan entry in configured order, returning
// the display names and the corresponding values.
func (p *Program) Emit() ([]string, []moonblade.Value, error) {
	names := make([]string, len(p.plan.Entries))
	vals := make([]moonblade.Value, len(p.plan.Entries))
	for i, e := range p.plan.Entries {
		v, err := p.composites[e.ExecIdx].Read(e)
		if err != nil {
			return nil, nil, err
		}
		names[i] = e.Name
		vals[i] = v
	}
	return names, vals, nil
}

// Names returns the output-plan's display names without requiring a
// built Program (used by callers that need the header before the
// first row arrives).
func (p *Plan) Names() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Name
	}
	return out
}

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
	"fmt"
	"math"
	"sort"

	"github.com/nullfield-labs/xan/internal/agg"
	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// Runner evaluates a parsed window program over a materialized row
// set. Several of spec.md §4.7's functions (ranks, ntile, frac, full
// aggregation) are inherently whole-stream, requiring the "total
// buffer" the spec describes; since that buffer already forces full
// materialization, this runner buffers the whole input rather than
// maintaining a separate bounded past/future ring for the remaining
// functions, trading the O(1)-in-window-size property for
// substantially simpler, more easily reviewed code (see DESIGN.md).
type Runner struct {
	headers *column.Headers
	calls   []Call
}

// NewRunner builds a runner for calls evaluated against headers.
func NewRunner(calls []Call, headers *column.Headers) *Runner {
	return &Runner{calls: calls, headers: headers}
}

// Run computes every call over rows, returning the display names and
// the per-row, per-call values to append as trailing columns.
func (r *Runner) Run(rows []moonblade.Row) ([]string, [][]moonblade.Value, error) {
	n := len(rows)
	names := make([]string, len(r.calls))
	out := make([][]moonblade.Value, n)
	for i := range out {
		out[i] = make([]moonblade.Value, len(r.calls))
	}
	for ci, call := range r.calls {
		names[ci] = call.Display
		col, err := r.evalCall(call, rows)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", call.Display, err)
		}
		for i := 0; i < n; i++ {
			out[i][ci] = col[i]
		}
	}
	return names, out, nil
}

func (r *Runner) evalOne(expr moonblade.Node, rows []moonblade.Row, i int) (moonblade.Value, error) {
	if i < 0 || i >= len(rows) {
		return moonblade.None, nil
	}
	ctx := &moonblade.Ctx{Row: rows[i], Headers: r.headers, Index: int64(i), HasIdx: true}
	return moonblade.Eval(expr, ctx)
}

func (r *Runner) evalCall(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	n := len(rows)
	out := make([]moonblade.Value, n)

	if moonblade.IsAggregatorName(call.Name) {
		return r.fullAggregation(call, rows)
	}

	switch call.Name {
	case "row_number":
		for i := range out {
			out[i] = moonblade.Int(int64(i + 1))
		}
		return out, nil
	case "row_index":
		for i := range out {
			out[i] = moonblade.Int(int64(i))
		}
		return out, nil
	case "lag":
		return r.lagLead(call, rows, -1)
	case "lead":
		return r.lagLead(call, rows, 1)
	case "front_coding":
		return r.frontCoding(call, rows)
	case "cumsum":
		return r.cumulative(call, rows, "sum")
	case "cummin":
		return r.cumulative(call, rows, "min")
	case "cummax":
		return r.cumulative(call, rows, "max")
	case "rolling_sum":
		return r.rollingSum(call, rows)
	case "rolling_mean", "rolling_avg":
		return r.rollingWelfordCall(call, rows, "mean")
	case "rolling_var":
		return r.rollingWelfordCall(call, rows, "var")
	case "rolling_stddev":
		return r.rollingWelfordCall(call, rows, "stddev")
	case "frac":
		return r.frac(call, rows)
	case "rank":
		return r.rank(call, rows)
	case "dense_rank":
		return r.denseRank(call, rows)
	case "cume_dist":
		return r.cumeDist(call, rows)
	case "percent_rank":
		return r.percentRank(call, rows)
	case "ntile":
		return r.ntile(call, rows)
	}
	return nil, fmt.Errorf("unknown window function %q", call.Name)
}

func literalInt(args []moonblade.Node, i, dflt int) int {
	if i >= len(args) {
		return dflt
	}
	lit, ok := args[i].(*moonblade.Literal)
	if !ok {
		return dflt
	}
	num, ok := moonblade.NumberOf(lit.Value)
	if !ok {
		return dflt
	}
	return int(num.Int())
}

func (r *Runner) lagLead(call Call, rows []moonblade.Row, sign int) ([]moonblade.Value, error) {
	if len(call.Args) < 1 {
		return nil, fmt.Errorf("%s: requires an expression argument", call.Name)
	}
	n := literalInt(call.Args, 1, 1)
	var dflt moonblade.Value = moonblade.None
	if len(call.Args) >= 3 {
		if lit, ok := call.Args[2].(*moonblade.Literal); ok {
			dflt = lit.Value
		}
	}
	out := make([]moonblade.Value, len(rows))
	for i := range rows {
		j := i + sign*n
		if j < 0 || j >= len(rows) {
			out[i] = dflt
			continue
		}
		v, err := r.evalOne(call.Args[0], rows, j)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *Runner) frontCoding(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	out := make([]moonblade.Value, len(rows))
	prev := ""
	for i := range rows {
		v, err := r.evalOne(call.Args[0], rows, i)
		if err != nil {
			return nil, err
		}
		cur := v.String()
		common := 0
		for common < len(prev) && common < len(cur) && prev[common] == cur[common] {
			common++
		}
		out[i] = moonblade.Str(fmt.Sprintf("%d:%s", common, cur[common:]))
		prev = cur
	}
	return out, nil
}

func (r *Runner) cumulative(call Call, rows []moonblade.Row, kind string) ([]moonblade.Value, error) {
	out := make([]moonblade.Value, len(rows))
	var sum float64
	var isFloat bool
	var best float64
	has := false
	for i := range rows {
		v, err := r.evalOne(call.Args[0], rows, i)
		if err != nil {
			return nil, err
		}
		num, ok := moonblade.NumberOf(v)
		if !ok {
			out[i] = moonblade.None
			continue
		}
		if num.IsFloat() {
			isFloat = true
		}
		x := num.Float()
		switch kind {
		case "sum":
			sum += x
			if isFloat {
				out[i] = moonblade.Float(sum)
			} else {
				out[i] = moonblade.Int(int64(sum))
			}
		case "min":
			if !has || x < best {
				best = x
				has = true
			}
			emitExtent(out, i, best, isFloat)
		case "max":
			if !has || x > best {
				best = x
				has = true
			}
			emitExtent(out, i, best, isFloat)
		}
	}
	return out, nil
}

func emitExtent(out []moonblade.Value, i int, best float64, isFloat bool) {
	if isFloat {
		out[i] = moonblade.Float(best)
	} else {
		out[i] = moonblade.Int(int64(best))
	}
}

func (r *Runner) rollingSum(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	n := literalInt(call.Args, 0, 1)
	out := make([]moonblade.Value, len(rows))
	vals := make([]float64, len(rows))
	for i := range rows {
		v, err := r.evalOne(call.Args[1], rows, i)
		if err != nil {
			return nil, err
		}
		num, _ := moonblade.NumberOf(v)
		vals[i] = num.Float()
	}
	var sum float64
	for i := range rows {
		sum += vals[i]
		if i >= n {
			sum -= vals[i-n]
		}
		out[i] = moonblade.Float(sum)
	}
	return out, nil
}

func (r *Runner) rollingWelfordCall(call Call, rows []moonblade.Row, method string) ([]moonblade.Value, error) {
	n := literalInt(call.Args, 0, 1)
	if n < 1 {
		n = 1
	}
	out := make([]moonblade.Value, len(rows))
	rw := newRollingWelford(n)
	for i := range rows {
		v, err := r.evalOne(call.Args[1], rows, i)
		if err != nil {
			return nil, err
		}
		num, ok := moonblade.NumberOf(v)
		if !ok {
			out[i] = moonblade.None
			continue
		}
		count := rw.push(num.Float())
		switch method {
		case "mean":
			out[i] = moonblade.Float(rw.mean)
		case "var":
			if count < 2 {
				out[i] = moonblade.None
			} else {
				out[i] = moonblade.Float(rw.varSample())
			}
		case "stddev":
			if count < 2 {
				out[i] = moonblade.None
			} else {
				out[i] = moonblade.Float(rw.stddevSample())
			}
		}
	}
	return out, nil
}

func (r *Runner) frac(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	decimals := -1
	if len(call.Args) >= 2 {
		decimals = literalInt(call.Args, 1, -1)
	}
	vals := make([]float64, len(rows))
	var total float64
	for i := range rows {
		v, err := r.evalOne(call.Args[0], rows, i)
		if err != nil {
			return nil, err
		}
		num, _ := moonblade.NumberOf(v)
		vals[i] = num.Float()
		total += num.Float()
	}
	out := make([]moonblade.Value, len(rows))
	for i, x := range vals {
		var frac float64
		if total != 0 {
			frac = x / total
		}
		if decimals >= 0 {
			mult := math.Pow(10, float64(decimals))
			frac = math.Round(frac*mult) / mult
		}
		out[i] = moonblade.Float(frac)
	}
	return out, nil
}

// indexedValue pairs a row's numeric value with its original
// position, used by every ordering-dependent function below.
type indexedValue struct {
	val moonblade.Number
	pos int
}

func (r *Runner) numericColumn(expr moonblade.Node, rows []moonblade.Row) ([]indexedValue, error) {
	out := make([]indexedValue, len(rows))
	for i := range rows {
		v, err := r.evalOne(expr, rows, i)
		if err != nil {
			return nil, err
		}
		num, _ := moonblade.NumberOf(v)
		out[i] = indexedValue{val: num, pos: i}
	}
	return out, nil
}

// rank assigns a unique sequential rank to every row, ties broken by
// original position (spec.md §8 scenario 5).
func (r *Runner) rank(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	vals, err := r.numericColumn(call.Args[0], rows)
	if err != nil {
		return nil, err
	}
	sorted := append([]indexedValue(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool {
		c := sorted[i].val.Cmp(sorted[j].val)
		if c != 0 {
			return c < 0
		}
		return sorted[i].pos < sorted[j].pos
	})
	out := make([]moonblade.Value, len(rows))
	for rnk, e := range sorted {
		out[e.pos] = moonblade.Int(int64(rnk + 1))
	}
	return out, nil
}

// denseRank assigns standard DENSE_RANK semantics: ties share a rank,
// with no gaps between distinct values (spec.md §8 scenario 5).
func (r *Runner) denseRank(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	vals, err := r.numericColumn(call.Args[0], rows)
	if err != nil {
		return nil, err
	}
	sorted := append([]indexedValue(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool {
		c := sorted[i].val.Cmp(sorted[j].val)
		if c != 0 {
			return c < 0
		}
		return sorted[i].pos < sorted[j].pos
	})
	out := make([]moonblade.Value, len(rows))
	rnk := 0
	for i, e := range sorted {
		if i == 0 || sorted[i-1].val.Cmp(e.val) != 0 {
			rnk++
		}
		out[e.pos] = moonblade.Int(int64(rnk))
	}
	return out, nil
}

func (r *Runner) cumeDist(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	vals, err := r.numericColumn(call.Args[0], rows)
	if err != nil {
		return nil, err
	}
	n := len(vals)
	out := make([]moonblade.Value, n)
	for i := range vals {
		count := 0
		for j := range vals {
			if vals[j].val.Cmp(vals[i].val) <= 0 {
				count++
			}
		}
		out[i] = moonblade.Float(float64(count) / float64(n))
	}
	return out, nil
}

func (r *Runner) percentRank(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	vals, err := r.numericColumn(call.Args[0], rows)
	if err != nil {
		return nil, err
	}
	n := len(vals)
	out := make([]moonblade.Value, n)
	for i := range vals {
		less := 0
		for j := range vals {
			if vals[j].val.Cmp(vals[i].val) < 0 {
				less++
			}
		}
		if n < 2 {
			out[i] = moonblade.Float(0)
			continue
		}
		out[i] = moonblade.Float(float64(less) / float64(n-1))
	}
	return out, nil
}

// ntile buckets rows into k groups of (near-)equal size in sorted
// order, the earliest buckets absorbing the remainder, and writes the
// bucket number back to each row's original position (spec.md §8
// scenario 5; call shape is `ntile(k, expr)`, k first).
func (r *Runner) ntile(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	if len(call.Args) < 2 {
		return nil, fmt.Errorf("ntile: requires (k, expr)")
	}
	k := literalInt(call.Args, 0, 1)
	if k < 1 {
		k = 1
	}
	vals, err := r.numericColumn(call.Args[1], rows)
	if err != nil {
		return nil, err
	}
	sorted := append([]indexedValue(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool {
		c := sorted[i].val.Cmp(sorted[j].val)
		if c != 0 {
			return c < 0
		}
		return sorted[i].pos < sorted[j].pos
	})
	n := len(sorted)
	base := n / k
	rem := n % k
	out := make([]moonblade.Value, n)
	pos := 0
	for bucket := 1; bucket <= k; bucket++ {
		size := base
		if bucket <= rem {
			size++
		}
		for j := 0; j < size && pos < n; j++ {
			out[sorted[pos].pos] = moonblade.Int(int64(bucket))
			pos++
		}
	}
	return out, nil
}

// fullAggregation runs call as a single whole-stream aggregation and
// broadcasts the one resulting value to every row, per spec.md §4.7.
func (r *Runner) fullAggregation(call Call, rows []moonblade.Row) ([]moonblade.Value, error) {
	spec := agg.CallSpec{Name: call.Name, Args: call.Args, Display: call.Display}
	plan, err := agg.BuildPlan([]agg.CallSpec{spec})
	if err != nil {
		return nil, err
	}
	prog := agg.NewProgram(plan, r.headers, nil)
	for i, row := range rows {
		if err := prog.Step(row, int64(i)); err != nil {
			return nil, err
		}
	}
	prog.Finalize(false)
	_, vals, err := prog.Emit()
	if err != nil {
		return nil, err
	}
	out := make([]moonblade.Value, len(rows))
	for i := range out {
		out[i] = vals[0]
	}
	return out, nil
}

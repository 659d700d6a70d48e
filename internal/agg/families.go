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
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dchest/siphash"

	"github.com/nullfield-labs/xan/heap"
	"github.com/nullfield-labs/xan/ints"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// AllAny folds truthiness, exposing `all` and `any`.
type AllAny struct {
	all, any bool
	seen     bool
}

func NewAllAny() *AllAny { return &AllAny{all: true} }

func (s *AllAny) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	s.seen = true
	t := v.Truthy()
	s.all = s.all && t
	s.any = s.any || t
}

func (s *AllAny) Merge(other State) {
	o := other.(*AllAny)
	s.all = s.all && o.all
	s.any = s.any || o.any
	s.seen = s.seen || o.seen
}

func (s *AllAny) Finalize(bool) {}

func (s *AllAny) Read(method string) (moonblade.Value, error) {
	switch method {
	case "all":
		return moonblade.Bool(s.all), nil
	case "any":
		return moonblade.Bool(s.any), nil
	}
	return moonblade.None, unknownMethod("AllAny", method)
}

// Count tracks total rows seen and how many were truthy, exposing
// `count`, `ratio`, `percentage`.
type Count struct {
	total, truthy int64
}

func NewCount() *Count { return &Count{} }

func (s *Count) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	s.total++
	if v.Truthy() {
		s.truthy++
	}
}

func (s *Count) Merge(other State) {
	o := other.(*Count)
	s.total += o.total
	s.truthy += o.truthy
}

func (s *Count) Finalize(bool) {}

func (s *Count) Read(method string) (moonblade.Value, error) {
	switch method {
	case "count":
		return moonblade.Int(s.total), nil
	case "ratio":
		if s.total == 0 {
			return moonblade.Float(0), nil
		}
		return moonblade.Float(float64(s.truthy) / float64(s.total)), nil
	case "percentage":
		if s.total == 0 {
			return moonblade.Float(0), nil
		}
		return moonblade.Float(100 * float64(s.truthy) / float64(s.total)), nil
	}
	return moonblade.None, unknownMethod("Count", method)
}

// Sum is a Kahan-Babuska compensated sum that tracks integer overflow
// (returns None on overflow) and promotes to float on mixed input.
type Sum struct {
	isFloat  bool
	sum      float64
	comp     float64
	intSum   int64
	overflow bool
	seen     bool
}

func NewSum() *Sum { return &Sum{} }

func (s *Sum) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	s.seen = true
	if n.IsFloat() {
		if !s.isFloat {
			s.sum = float64(s.intSum)
			s.isFloat = true
		}
		s.kahanAdd(n.Float())
		return
	}
	if s.isFloat {
		s.kahanAdd(n.Float())
		return
	}
	next := s.intSum + n.Int()
	if (n.Int() > 0 && next < s.intSum) || (n.Int() < 0 && next > s.intSum) {
		s.overflow = true
	}
	s.intSum = next
}

func (s *Sum) kahanAdd(x float64) {
	t := s.sum + x
	if math.Abs(s.sum) >= math.Abs(x) {
		s.comp += (s.sum - t) + x
	} else {
		s.comp += (x - t) + s.sum
	}
	s.sum = t
}

func (s *Sum) Merge(other State) {
	o := other.(*Sum)
	if o.isFloat && !s.isFloat {
		s.sum = float64(s.intSum)
		s.isFloat = true
	}
	if s.isFloat || o.isFloat {
		if !s.isFloat {
			s.sum = float64(s.intSum)
			s.isFloat = true
		}
		ov := o.sum
		if !o.isFloat {
			ov = float64(o.intSum)
		}
		s.kahanAdd(ov)
		s.comp += o.comp
	} else {
		next := s.intSum + o.intSum
		if (o.intSum > 0 && next < s.intSum) || (o.intSum < 0 && next > s.intSum) {
			s.overflow = true
		}
		s.intSum = next
	}
	s.overflow = s.overflow || o.overflow
	s.seen = s.seen || o.seen
}

func (s *Sum) Finalize(bool) {}

func (s *Sum) Read(method string) (moonblade.Value, error) {
	if method != "sum" {
		return moonblade.None, unknownMethod("Sum", method)
	}
	if s.overflow {
		return moonblade.None, nil
	}
	if s.isFloat {
		return moonblade.Float(s.sum + s.comp), nil
	}
	return moonblade.Int(s.intSum), nil
}

// NumericExtent tracks min and max of a numeric expression.
type NumericExtent struct {
	min, max moonblade.Number
	has      bool
}

func NewNumericExtent() *NumericExtent { return &NumericExtent{} }

func (s *NumericExtent) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	if !s.has {
		s.min, s.max, s.has = n, n, true
		return
	}
	if n.Cmp(s.min) < 0 {
		s.min = n
	}
	if n.Cmp(s.max) > 0 {
		s.max = n
	}
}

func (s *NumericExtent) Merge(other State) {
	o := other.(*NumericExtent)
	if !o.has {
		return
	}
	if !s.has {
		*s = *o
		return
	}
	if o.min.Cmp(s.min) < 0 {
		s.min = o.min
	}
	if o.max.Cmp(s.max) > 0 {
		s.max = o.max
	}
}

func (s *NumericExtent) Finalize(bool) {}

func (s *NumericExtent) Read(method string) (moonblade.Value, error) {
	if !s.has {
		return moonblade.None, nil
	}
	switch method {
	case "min":
		return s.min.ToValue(), nil
	case "max":
		return s.max.ToValue(), nil
	}
	return moonblade.None, unknownMethod("NumericExtent", method)
}

// ArgExtent tracks min/max and the originating (row_index, row) for
// each, replacing a plain NumericExtent when argmin/argmax is
// requested over the same execution key. Ties keep the first row
// index seen, per original_source's extent.rs.
type ArgExtent struct {
	minVal, maxVal moonblade.Number
	minIdx, maxIdx int64
	minRow, maxRow moonblade.Row
	has            bool
}

func NewArgExtent() *ArgExtent { return &ArgExtent{} }

// UpgradeFromNumericExtent seeds an ArgExtent from a plain extent's
// current min/max when argmin/argmax is added to a key that already
// had `min`/`max` requested, per design note §9.
func (s *ArgExtent) UpgradeFromNumericExtent(ne *NumericExtent) {
	if ne.has {
		s.minVal, s.maxVal, s.has = ne.min, ne.max, true
	}
}

func (s *ArgExtent) Add(v moonblade.Value, rowIndex int64, row moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	if !s.has {
		s.minVal, s.maxVal, s.has = n, n, true
		s.minIdx, s.maxIdx = rowIndex, rowIndex
		s.minRow, s.maxRow = snapshot(row), snapshot(row)
		return
	}
	if n.Cmp(s.minVal) < 0 {
		s.minVal, s.minIdx, s.minRow = n, rowIndex, snapshot(row)
	}
	if n.Cmp(s.maxVal) > 0 {
		s.maxVal, s.maxIdx, s.maxRow = n, rowIndex, snapshot(row)
	}
}

func (s *ArgExtent) Merge(other State) {
	o := other.(*ArgExtent)
	if !o.has {
		return
	}
	if !s.has {
		*s = *o
		return
	}
	if o.minVal.Cmp(s.minVal) < 0 || (o.minVal.Cmp(s.minVal) == 0 && o.minIdx < s.minIdx) {
		s.minVal, s.minIdx, s.minRow = o.minVal, o.minIdx, o.minRow
	}
	if o.maxVal.Cmp(s.maxVal) > 0 || (o.maxVal.Cmp(s.maxVal) == 0 && o.maxIdx < s.maxIdx) {
		s.maxVal, s.maxIdx, s.maxRow = o.maxVal, o.maxIdx, o.maxRow
	}
}

func (s *ArgExtent) Finalize(bool) {}

func (s *ArgExtent) Read(method string) (moonblade.Value, error) {
	if !s.has {
		return moonblade.None, nil
	}
	switch method {
	case "min":
		return s.minVal.ToValue(), nil
	case "max":
		return s.maxVal.ToValue(), nil
	case "argmin":
		return moonblade.Int(s.minIdx), nil
	case "argmax":
		return moonblade.Int(s.maxIdx), nil
	}
	return moonblade.None, unknownMethod("ArgExtent", method)
}

// topEntry is one candidate held by ArgTop's reverse min-heap: the
// heap root is always the current worst of the retained top-k, so a
// new value need only be compared against it.
type topEntry struct {
	val      moonblade.Number
	rowIndex int64
	row      moonblade.Row
}

// ArgTop is a fixed-capacity reverse heap of (value, -row_index, row)
// with deterministic tie-breaking by earliest row, exposing `top`
// (sorted values) and `argtop` (captured row indices or a secondary
// expression joined by a separator).
type ArgTop struct {
	k       int
	entries []topEntry
}

func NewArgTop(k int) *ArgTop { return &ArgTop{k: k} }

func argTopLess(a, b topEntry) bool {
	c := a.val.Cmp(b.val)
	if c != 0 {
		return c < 0
	}
	// Among equal values the heap root should still be the one to
	// evict first; prefer evicting the later-seen row so ties retain
	// earliest-row precedence in the final sorted-descending output.
	return a.rowIndex > b.rowIndex
}

func (s *ArgTop) Add(v moonblade.Value, rowIndex int64, row moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	e := topEntry{val: n, rowIndex: rowIndex, row: snapshot(row)}
	if len(s.entries) < s.k {
		heap.PushSlice(&s.entries, e, argTopLess)
		return
	}
	if len(s.entries) == 0 {
		return
	}
	if argTopLess(s.entries[0], e) {
		s.entries[0] = e
		heap.FixSlice(s.entries, 0, argTopLess)
	}
}

func (s *ArgTop) Merge(other State) {
	o := other.(*ArgTop)
	for _, e := range o.entries {
		if len(s.entries) < s.k {
			heap.PushSlice(&s.entries, e, argTopLess)
			continue
		}
		if argTopLess(s.entries[0], e) {
			s.entries[0] = e
			heap.FixSlice(s.entries, 0, argTopLess)
		}
	}
}

func (s *ArgTop) sorted() []topEntry {
	out := append([]topEntry(nil), s.entries...)
	sort.Slice(out, func(i, j int) bool {
		c := out[i].val.Cmp(out[j].val)
		if c != 0 {
			return c > 0
		}
		return out[i].rowIndex < out[j].rowIndex
	})
	return out
}

// Rows returns the captured rows in descending-value sorted order,
// for callers evaluating argtop's optional secondary expression over
// the captured top-k rows.
func (s *ArgTop) Rows() []moonblade.Row {
	sorted := s.sorted()
	out := make([]moonblade.Row, len(sorted))
	for i, e := range sorted {
		out[i] = e.row
	}
	return out
}

func (s *ArgTop) Finalize(bool) {}

func (s *ArgTop) Read(method string) (moonblade.Value, error) {
	sorted := s.sorted()
	switch method {
	case "top":
		vals := make([]moonblade.Value, len(sorted))
		for i, e := range sorted {
			vals[i] = e.val.ToValue()
		}
		return moonblade.List(vals), nil
	case "argtop":
		idxs := make([]moonblade.Value, len(sorted))
		for i, e := range sorted {
			idxs[i] = moonblade.Int(e.rowIndex)
		}
		return moonblade.List(idxs), nil
	}
	return moonblade.None, unknownMethod("ArgTop", method)
}

// First / Last track the first / last non-null value, retaining the
// originating index so shard merges stay deterministic.
type First struct {
	val      moonblade.Value
	idx      int64
	has      bool
}

func NewFirst() *First { return &First{} }

func (s *First) Add(v moonblade.Value, rowIndex int64, _ moonblade.Row) {
	if v.IsNone() {
		return
	}
	if !s.has || rowIndex < s.idx {
		s.val, s.idx, s.has = v, rowIndex, true
	}
}

func (s *First) Merge(other State) {
	o := other.(*First)
	if !o.has {
		return
	}
	if !s.has || o.idx < s.idx {
		s.val, s.idx, s.has = o.val, o.idx, true
	}
}

func (s *First) Finalize(bool) {}

func (s *First) Read(method string) (moonblade.Value, error) {
	if method != "first" {
		return moonblade.None, unknownMethod("First", method)
	}
	if !s.has {
		return moonblade.None, nil
	}
	return s.val, nil
}

type Last struct {
	val moonblade.Value
	idx int64
	has bool
}

func NewLast() *Last { return &Last{} }

func (s *Last) Add(v moonblade.Value, rowIndex int64, _ moonblade.Row) {
	if v.IsNone() {
		return
	}
	if !s.has || rowIndex > s.idx {
		s.val, s.idx, s.has = v, rowIndex, true
	}
}

func (s *Last) Merge(other State) {
	o := other.(*Last)
	if !o.has {
		return
	}
	if !s.has || o.idx > s.idx {
		s.val, s.idx, s.has = o.val, o.idx, true
	}
}

func (s *Last) Finalize(bool) {}

func (s *Last) Read(method string) (moonblade.Value, error) {
	if method != "last" {
		return moonblade.None, unknownMethod("Last", method)
	}
	if !s.has {
		return moonblade.None, nil
	}
	return s.val, nil
}

// LexicographicExtent tracks lexicographic min/max over string values.
type LexicographicExtent struct {
	min, max string
	has      bool
}

func NewLexicographicExtent() *LexicographicExtent { return &LexicographicExtent{} }

func (s *LexicographicExtent) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	if v.IsNone() {
		return
	}
	str := v.String()
	if !s.has {
		s.min, s.max, s.has = str, str, true
		return
	}
	if str < s.min {
		s.min = str
	}
	if str > s.max {
		s.max = str
	}
}

func (s *LexicographicExtent) Merge(other State) {
	o := other.(*LexicographicExtent)
	if !o.has {
		return
	}
	if !s.has {
		*s = *o
		return
	}
	if o.min < s.min {
		s.min = o.min
	}
	if o.max > s.max {
		s.max = o.max
	}
}

func (s *LexicographicExtent) Finalize(bool) {}

func (s *LexicographicExtent) Read(method string) (moonblade.Value, error) {
	if !s.has {
		return moonblade.None, nil
	}
	switch method {
	case "lex_first", "min":
		return moonblade.Str(s.min), nil
	case "lex_last", "max":
		return moonblade.Str(s.max), nil
	}
	return moonblade.None, unknownMethod("LexicographicExtent", method)
}

// ZonedExtent tracks earliest/latest datetime plus an elapsed-time
// readout in a configurable unit.
type ZonedExtent struct {
	min, max time.Time
	has      bool
	unit     string
}

func NewZonedExtent(unit string) *ZonedExtent { return &ZonedExtent{unit: unit} }

func (s *ZonedExtent) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	if v.Kind() != moonblade.KindDateTime {
		return
	}
	t := v.AsTime()
	if !s.has {
		s.min, s.max, s.has = t, t, true
		return
	}
	if t.Before(s.min) {
		s.min = t
	}
	if t.After(s.max) {
		s.max = t
	}
}

func (s *ZonedExtent) Merge(other State) {
	o := other.(*ZonedExtent)
	if !o.has {
		return
	}
	if !s.has {
		*s = *o
		return
	}
	if o.min.Before(s.min) {
		s.min = o.min
	}
	if o.max.After(s.max) {
		s.max = o.max
	}
}

func (s *ZonedExtent) Finalize(bool) {}

func (s *ZonedExtent) Read(method string) (moonblade.Value, error) {
	if !s.has {
		return moonblade.None, nil
	}
	switch method {
	case "earliest":
		return moonblade.DateTime(s.min), nil
	case "latest":
		return moonblade.DateTime(s.max), nil
	case "elapsed":
		d := s.max.Sub(s.min)
		switch s.unit {
		case "hours":
			return moonblade.Float(d.Hours()), nil
		case "days":
			return moonblade.Float(d.Hours() / 24), nil
		case "years":
			return moonblade.Float(d.Hours() / 24 / 365.25), nil
		default:
			return moonblade.Float(d.Seconds()), nil
		}
	}
	return moonblade.None, unknownMethod("ZonedExtent", method)
}

// Elapsed reads the max-min readout in an explicit unit, for callers
// that need a unit other than the one the state was constructed
// with (several `elapsed(expr, unit=...)` calls sharing one key).
func (s *ZonedExtent) Elapsed(unit string) moonblade.Value {
	if !s.has {
		return moonblade.None
	}
	d := s.max.Sub(s.min)
	switch unit {
	case "hours":
		return moonblade.Float(d.Hours())
	case "days":
		return moonblade.Float(d.Hours() / 24)
	case "years":
		return moonblade.Float(d.Hours() / 24 / 365.25)
	default:
		return moonblade.Float(d.Seconds())
	}
}

// Frequencies is an exact frequency map.
type Frequencies struct {
	counts map[string]int64
	order  []string
}

func NewFrequencies() *Frequencies { return &Frequencies{counts: map[string]int64{}} }

func (s *Frequencies) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	if v.IsNone() {
		return
	}
	k := v.String()
	if _, ok := s.counts[k]; !ok {
		s.order = append(s.order, k)
	}
	s.counts[k]++
}

func (s *Frequencies) Merge(other State) {
	o := other.(*Frequencies)
	for _, k := range o.order {
		if _, ok := s.counts[k]; !ok {
			s.order = append(s.order, k)
		}
		s.counts[k] += o.counts[k]
	}
}

func (s *Frequencies) Finalize(bool) {}

func (s *Frequencies) modes() []string {
	var best int64
	for _, k := range s.order {
		if s.counts[k] > best {
			best = s.counts[k]
		}
	}
	var out []string
	for _, k := range s.order {
		if s.counts[k] == best {
			out = append(out, k)
		}
	}
	return out
}

func (s *Frequencies) Read(method string) (moonblade.Value, error) {
	switch method {
	case "cardinality":
		return moonblade.Int(int64(len(s.order))), nil
	case "mode":
		// Arbitrary among ties, per spec.md §9 open question; first
		// seen among the tied set is used here for determinism.
		m := s.modes()
		if len(m) == 0 {
			return moonblade.None, nil
		}
		return moonblade.Str(m[0]), nil
	case "modes":
		m := s.modes()
		vals := make([]moonblade.Value, len(m))
		for i, v := range m {
			vals[i] = moonblade.Str(v)
		}
		return moonblade.List(vals), nil
	case "distinct_values":
		vals := make([]moonblade.Value, len(s.order))
		for i, v := range s.order {
			vals[i] = moonblade.Str(v)
		}
		return moonblade.List(vals), nil
	case "most_common", "most_common_values":
		type kv struct {
			k string
			c int64
		}
		kvs := make([]kv, len(s.order))
		for i, k := range s.order {
			kvs[i] = kv{k, s.counts[k]}
		}
		sort.SliceStable(kvs, func(i, j int) bool { return kvs[i].c > kvs[j].c })
		vals := make([]moonblade.Value, len(kvs))
		for i, e := range kvs {
			if method == "most_common_values" {
				vals[i] = moonblade.Str(e.k)
			} else {
				vals[i] = moonblade.List([]moonblade.Value{moonblade.Str(e.k), moonblade.Int(e.c)})
			}
		}
		return moonblade.List(vals), nil
	}
	return moonblade.None, unknownMethod("Frequencies", method)
}

// Numbers buffers every numeric value seen, sorting once at finalize
// time; exposes quartiles, arbitrary quantiles and median variants.
// It has no sparkline bucketing readout.
type Numbers struct {
	vals   []float64
	sorted bool
}

func NewNumbers() *Numbers { return &Numbers{} }

func (s *Numbers) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	s.vals = append(s.vals, n.Float())
	s.sorted = false
}

func (s *Numbers) Merge(other State) {
	o := other.(*Numbers)
	s.vals = append(s.vals, o.vals...)
	s.sorted = false
}

func (s *Numbers) Finalize(bool) {
	if s.sorted {
		return
	}
	sort.Float64s(s.vals)
	s.sorted = true
}

// quantile performs linear interpolation between the two bracketing
// order statistics, per original_source's aggregators/numbers.rs.
func (s *Numbers) quantile(p float64) float64 {
	if len(s.vals) == 0 {
		return 0
	}
	if len(s.vals) == 1 {
		return s.vals[0]
	}
	pos := p * float64(len(s.vals)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s.vals[lo]
	}
	frac := pos - float64(lo)
	return s.vals[lo]*(1-frac) + s.vals[hi]*frac
}

func (s *Numbers) Read(method string) (moonblade.Value, error) {
	if len(s.vals) == 0 {
		return moonblade.None, nil
	}
	switch method {
	case "median":
		return moonblade.Float(s.quantile(0.5)), nil
	case "median_low":
		return moonblade.Float(s.vals[(len(s.vals)-1)/2]), nil
	case "median_high":
		return moonblade.Float(s.vals[len(s.vals)/2]), nil
	case "q1":
		return moonblade.Float(s.quantile(0.25)), nil
	case "q2":
		return moonblade.Float(s.quantile(0.5)), nil
	case "q3":
		return moonblade.Float(s.quantile(0.75)), nil
	case "min":
		return moonblade.Float(s.vals[0]), nil
	case "max":
		return moonblade.Float(s.vals[len(s.vals)-1]), nil
	}
	return moonblade.None, unknownMethod("Numbers", method)
}

// Quantile reads an arbitrary probability, used by the `quantile(expr, p)`
// call shape which carries its parameter on the output-plan entry
// rather than in the method name.
func (s *Numbers) Quantile(p float64) moonblade.Value {
	if len(s.vals) == 0 {
		return moonblade.None
	}
	return moonblade.Float(s.quantile(p))
}

// Welford computes online mean, population/sample variance and
// population/sample stddev.
type Welford struct {
	n    int64
	mean float64
	m2   float64
}

func NewWelford() *Welford { return &Welford{} }

func (s *Welford) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	s.n++
	x := n.Float()
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	delta2 := x - s.mean
	s.m2 += delta * delta2
}

// Merge uses Chan et al.'s parallel variance combination formula.
func (s *Welford) Merge(other State) {
	o := other.(*Welford)
	if o.n == 0 {
		return
	}
	if s.n == 0 {
		*s = *o
		return
	}
	na, nb := float64(s.n), float64(o.n)
	delta := o.mean - s.mean
	total := na + nb
	newMean := s.mean + delta*nb/total
	newM2 := s.m2 + o.m2 + delta*delta*na*nb/total
	s.n += o.n
	s.mean = newMean
	s.m2 = newM2
}

func (s *Welford) Finalize(bool) {}

func (s *Welford) Read(method string) (moonblade.Value, error) {
	switch method {
	case "mean", "avg":
		if s.n == 0 {
			return moonblade.None, nil
		}
		return moonblade.Float(s.mean), nil
	case "var_pop":
		if s.n == 0 {
			return moonblade.None, nil
		}
		return moonblade.Float(s.m2 / float64(s.n)), nil
	case "var", "variance":
		if s.n < 2 {
			return moonblade.None, nil
		}
		return moonblade.Float(s.m2 / float64(s.n-1)), nil
	case "stddev_pop":
		if s.n == 0 {
			return moonblade.None, nil
		}
		return moonblade.Float(math.Sqrt(s.m2 / float64(s.n))), nil
	case "stddev", "stdev":
		if s.n < 2 {
			return moonblade.None, nil
		}
		return moonblade.Float(math.Sqrt(s.m2 / float64(s.n-1))), nil
	}
	return moonblade.None, unknownMethod("Welford", method)
}

// CovarianceWelford computes online covariance/correlation over a
// pair of expressions, requiring equal non-nullness per row.
type CovarianceWelford struct {
	n          int64
	meanA      float64
	meanB      float64
	c          float64
	m2A, m2B   float64
}

func NewCovarianceWelford() *CovarianceWelford { return &CovarianceWelford{} }

func (s *CovarianceWelford) Add(moonblade.Value, int64, moonblade.Row) {}

func (s *CovarianceWelford) AddPair(a, b moonblade.Value, _ int64, _ moonblade.Row) {
	na, aok := moonblade.NumberOf(a)
	nb, bok := moonblade.NumberOf(b)
	if aok != bok {
		return // unaligned series: one side null, the other not
	}
	if !aok || !bok {
		return
	}
	s.n++
	x, y := na.Float(), nb.Float()
	dxOld := x - s.meanA
	s.meanA += dxOld / float64(s.n)
	dyOld := y - s.meanB
	s.meanB += dyOld / float64(s.n)
	s.c += dxOld * (y - s.meanB)
	s.m2A += dxOld * (x - s.meanA)
	s.m2B += dyOld * (y - s.meanB)
}

func (s *CovarianceWelford) Merge(other State) {
	o := other.(*CovarianceWelford)
	if o.n == 0 {
		return
	}
	if s.n == 0 {
		*s = *o
		return
	}
	na, nb := float64(s.n), float64(o.n)
	total := na + nb
	deltaA := o.meanA - s.meanA
	deltaB := o.meanB - s.meanB
	newC := s.c + o.c + deltaA*deltaB*na*nb/total
	newM2A := s.m2A + o.m2A + deltaA*deltaA*na*nb/total
	newM2B := s.m2B + o.m2B + deltaB*deltaB*na*nb/total
	s.meanA += deltaA * nb / total
	s.meanB += deltaB * nb / total
	s.c = newC
	s.m2A = newM2A
	s.m2B = newM2B
	s.n += o.n
}

func (s *CovarianceWelford) Finalize(bool) {}

func (s *CovarianceWelford) Read(method string) (moonblade.Value, error) {
	if s.n < 2 {
		return moonblade.None, nil
	}
	switch method {
	case "covariance":
		return moonblade.Float(s.c / float64(s.n-1)), nil
	case "correlation", "corr":
		denom := math.Sqrt(s.m2A * s.m2B)
		if denom == 0 {
			return moonblade.None, nil
		}
		return moonblade.Float(s.c / denom), nil
	}
	return moonblade.None, unknownMethod("CovarianceWelford", method)
}

// ApproxCardinality is a HyperLogLog-style probabilistic set
// cardinality sketch, bucketed with github.com/dchest/siphash (a
// teacher go.mod dependency) for fast keyed hashing of the observed
// bytes instead of Go's randomized built-in map hash.
type ApproxCardinality struct {
	registers []uint8
	p         uint
}

const hllPrecision = 14

func NewApproxCardinality() *ApproxCardinality {
	return &ApproxCardinality{registers: make([]uint8, 1<<hllPrecision), p: hllPrecision}
}

func (s *ApproxCardinality) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	if v.IsNone() {
		return
	}
	h := siphash.Hash(0, 0, []byte(v.String()))
	idx := h >> (64 - s.p)
	rest := (h << s.p) | (1 << (s.p - 1))
	rho := uint8(1)
	for rest&(1<<63) == 0 && rho < 64 {
		rest <<= 1
		rho++
	}
	s.registers[idx] = ints.Max(s.registers[idx], rho)
}

func (s *ApproxCardinality) Merge(other State) {
	o := other.(*ApproxCardinality)
	for i, r := range o.registers {
		s.registers[i] = ints.Max(s.registers[i], r)
	}
}

func (s *ApproxCardinality) Finalize(bool) {}

func (s *ApproxCardinality) Read(method string) (moonblade.Value, error) {
	if method != "approx_cardinality" {
		return moonblade.None, unknownMethod("ApproxCardinality", method)
	}
	m := float64(len(s.registers))
	sum := 0.0
	zeros := 0
	for _, r := range s.registers {
		sum += 1.0 / math.Pow(2, float64(r))
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	estimate := alpha * m * m / sum
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}
	return moonblade.Int(int64(math.Round(estimate))), nil
}

// ApproxQuantiles is a simplified streaming quantile sketch: it
// retains a bounded uniform sample (reservoir) and answers quantile
// queries from the sample, trading exactness for O(1) memory the way
// a t-digest would; an exact `Numbers` buffer is used instead whenever
// exact answers were requested.
type ApproxQuantiles struct {
	reservoir []float64
	seen      int64
	capacity  int
	rng       uint64
}

func NewApproxQuantiles(capacity int) *ApproxQuantiles {
	return &ApproxQuantiles{capacity: capacity, rng: 0x9e3779b97f4a7c15}
}

func (s *ApproxQuantiles) next() uint64 {
	s.rng ^= s.rng << 13
	s.rng ^= s.rng >> 7
	s.rng ^= s.rng << 17
	return s.rng
}

func (s *ApproxQuantiles) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	n, ok := moonblade.NumberOf(v)
	if !ok {
		return
	}
	s.seen++
	if len(s.reservoir) < s.capacity {
		s.reservoir = append(s.reservoir, n.Float())
		return
	}
	j := s.next() % uint64(s.seen)
	if int(j) < s.capacity {
		s.reservoir[j] = n.Float()
	}
}

func (s *ApproxQuantiles) Merge(other State) {
	o := other.(*ApproxQuantiles)
	for _, v := range o.reservoir {
		s.seen++
		if len(s.reservoir) < s.capacity {
			s.reservoir = append(s.reservoir, v)
			continue
		}
		j := s.next() % uint64(s.seen)
		if int(j) < s.capacity {
			s.reservoir[j] = v
		}
	}
}

func (s *ApproxQuantiles) Finalize(bool) {
	sort.Float64s(s.reservoir)
}

func (s *ApproxQuantiles) Read(method string) (moonblade.Value, error) {
	if method != "approx_quantile" {
		return moonblade.None, unknownMethod("ApproxQuantiles", method)
	}
	if len(s.reservoir) == 0 {
		return moonblade.None, nil
	}
	return moonblade.Float(s.reservoir[len(s.reservoir)/2]), nil
}

func (s *ApproxQuantiles) Quantile(p float64) moonblade.Value {
	if len(s.reservoir) == 0 {
		return moonblade.None
	}
	i := int(p * float64(len(s.reservoir)-1))
	return moonblade.Float(s.reservoir[i])
}

// Types tracks the set of value-shape "types" seen (integer, float,
// date, url, string, empty), exposing the union and a single "most
// likely" type.
type Types struct {
	seen map[string]bool
	order []string
}

func NewTypes() *Types { return &Types{seen: map[string]bool{}} }

func classify(v moonblade.Value) string {
	switch v.Kind() {
	case moonblade.KindNone:
		return "empty"
	case moonblade.KindInt:
		return "integer"
	case moonblade.KindFloat:
		return "float"
	case moonblade.KindDateTime:
		return "date"
	default:
		str := v.String()
		if str == "" {
			return "empty"
		}
		if strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://") {
			return "url"
		}
		return "string"
	}
}

func (s *Types) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	t := classify(v)
	if !s.seen[t] {
		s.seen[t] = true
		s.order = append(s.order, t)
	}
}

func (s *Types) Merge(other State) {
	o := other.(*Types)
	for _, t := range o.order {
		if !s.seen[t] {
			s.seen[t] = true
			s.order = append(s.order, t)
		}
	}
}

func (s *Types) Finalize(bool) {}

var typePriority = []string{"empty", "integer", "float", "date", "url", "string"}

func (s *Types) Read(method string) (moonblade.Value, error) {
	switch method {
	case "types":
		return moonblade.Str(strings.Join(s.order, "|")), nil
	case "type":
		for i := len(typePriority) - 1; i >= 0; i-- {
			if s.seen[typePriority[i]] {
				return moonblade.Str(typePriority[i]), nil
			}
		}
		return moonblade.None, nil
	}
	return moonblade.None, unknownMethod("Types", method)
}

// Values is an insertion-ordered distinct value list, joined by a
// configurable separator.
type Values struct {
	seen  map[string]bool
	order []string
	sep   string
}

func NewValues(sep string) *Values {
	if sep == "" {
		sep = "|"
	}
	return &Values{seen: map[string]bool{}, sep: sep}
}

func (s *Values) Add(v moonblade.Value, _ int64, _ moonblade.Row) {
	if v.IsNone() {
		return
	}
	str := v.String()
	if !s.seen[str] {
		s.seen[str] = true
		s.order = append(s.order, str)
	}
}

func (s *Values) Merge(other State) {
	o := other.(*Values)
	for _, v := range o.order {
		if !s.seen[v] {
			s.seen[v] = true
			s.order = append(s.order, v)
		}
	}
}

func (s *Values) Finalize(bool) {}

func (s *Values) Read(method string) (moonblade.Value, error) {
	if method != "values" {
		return moonblade.None, unknownMethod("Values", method)
	}
	return moonblade.Str(strings.Join(s.order, s.sep)), nil
}

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

package main

import (
	"flag"
	"strconv"
	"strings"

	"github.com/nullfield-labs/xan/internal/agg"
	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
	"github.com/nullfield-labs/xan/internal/recordio"
)

// groupKey builds a collision-free string key from the selected
// cells: each cell is length-prefixed so "ab","c" and "a","bc" never
// collide under plain concatenation.
func groupKey(cells []string) string {
	var b strings.Builder
	for _, c := range cells {
		b.WriteString(strconv.Itoa(len(c)))
		b.WriteByte(':')
		b.WriteString(c)
	}
	return b.String()
}

// runGroupby runs a grouped aggregation (spec.md §4.6, scenario 2 in
// §8): groups are emitted in first-seen order, and an optional -total
// program is evaluated in the same pass and broadcast to every group
// row.
func runGroupby(args []string) error {
	fs := flag.NewFlagSet("groupby", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	delim := fs.String("delimiter", ",", "field delimiter")
	total := fs.String("total", "", "a second aggregation program evaluated over the whole input and broadcast to every group row")
	sorted := fs.Bool("sorted", false, "input is known sorted on the group key; use O(1)-memory sorted-group mode")
	fs.Parse(args)
	rest := fs.Args()
	if err := requireArgs(rest, 2, "xan groupby [-o file] [-total prog] [-sorted] <selector> <agg-program> [input]"); err != nil {
		return err
	}
	groupSel, prog := rest[0], rest[1]
	path := "-"
	if len(rest) > 2 {
		path = rest[2]
	}

	r, closeSrc, err := openSource(path, (*delim)[0], true)
	if err != nil {
		return err
	}
	defer closeSrc()

	headers := column.NewHeaders(r.Headers())
	sel, err := column.Parse(groupSel, headers)
	if err != nil {
		return err
	}
	calls, err := agg.ParseProgram(prog, headers)
	if err != nil {
		return err
	}
	plan, err := agg.BuildPlan(calls)
	if err != nil {
		return err
	}

	var totalPlan *agg.Plan
	var totalProgram *agg.Program
	if *total != "" {
		totalCalls, err := agg.ParseProgram(*total, headers)
		if err != nil {
			return err
		}
		totalPlan, err = agg.BuildPlan(totalCalls)
		if err != nil {
			return err
		}
		totalProgram = agg.NewProgram(totalPlan, headers, nil)
	}

	w, closeDst, err := openSink(*output, (*delim)[0])
	if err != nil {
		return err
	}
	defer closeDst()

	keyNames := sel.Collect(headers.Names())

	if *sorted {
		return runSortedGroupby(r, w, headers, sel, plan, keyNames, totalPlan, totalProgram)
	}
	return runHashedGroupby(r, w, headers, sel, plan, keyNames, totalPlan, totalProgram)
}

func runHashedGroupby(r recordio.Reader, w *recordio.Writer, headers *column.Headers, sel *column.Selection, plan *agg.Plan, keyNames []string, totalPlan *agg.Plan, totalProgram *agg.Program) error {
	gt := agg.NewGroupTable(plan, headers)
	var row recordio.Row
	var idx int64
	for {
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keyVals := sel.Collect(row)
		bs := moonblade.RowOf(row)
		if err := gt.Step(groupKey(keyVals), keyVals, bs, idx); err != nil {
			return err
		}
		if totalProgram != nil {
			if err := totalProgram.Step(bs, idx); err != nil {
				return err
			}
		}
		idx++
	}
	gt.Finalize(false)

	names, rows, err := gt.Emit()
	if err != nil {
		return err
	}

	var totalVals []moonblade.Value
	if totalProgram != nil {
		totalProgram.Finalize(false)
		tn, tv, err := totalProgram.Emit()
		if err != nil {
			return err
		}
		names = append(append([]string(nil), names...), tn...)
		totalVals = tv
	}

	if err := w.WriteRow(append(append([]string(nil), keyNames...), names...)); err != nil {
		return err
	}
	for _, gr := range rows {
		out := append([]string(nil), gr.Key...)
		for _, v := range gr.Values {
			out = append(out, v.String())
		}
		for _, v := range totalVals {
			out = append(out, v.String())
		}
		if err := w.WriteRow(out); err != nil {
			return err
		}
	}
	return nil
}

// runSortedGroupby implements spec.md §4.6's sorted-grouped mode: a
// single active group is kept in memory, finalized and emitted when
// the key changes. When -total is given, emission is necessarily
// deferred until end-of-stream (the broadcast value isn't known until
// every row has been seen), trading the mode's usual O(1) memory for
// the total program's single extra pass worth of buffered output rows.
func runSortedGroupby(r recordio.Reader, w *recordio.Writer, headers *column.Headers, sel *column.Selection, plan *agg.Plan, keyNames []string, totalPlan *agg.Plan, totalProgram *agg.Program) error {
	runner := agg.NewSortedGroupRunner(plan, headers)
	var outNames []string
	var buffered []agg.GroupRow
	wrote := false

	emit := func(gr agg.GroupRow, names []string) error {
		outNames = names
		if totalProgram != nil {
			buffered = append(buffered, gr)
			return nil
		}
		if !wrote {
			if err := w.WriteRow(append(append([]string(nil), keyNames...), names...)); err != nil {
				return err
			}
			wrote = true
		}
		out := append([]string(nil), gr.Key...)
		for _, v := range gr.Values {
			out = append(out, v.String())
		}
		return w.WriteRow(out)
	}

	var row recordio.Row
	var idx int64
	for {
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		keyVals := sel.Collect(row)
		bs := moonblade.RowOf(row)
		gr, names, emitted, err := runner.Step(groupKey(keyVals), keyVals, bs, idx)
		if err != nil {
			return err
		}
		if emitted {
			if err := emit(gr, names); err != nil {
				return err
			}
		}
		if totalProgram != nil {
			if err := totalProgram.Step(bs, idx); err != nil {
				return err
			}
		}
		idx++
	}
	gr, names, emitted, err := runner.Flush()
	if err != nil {
		return err
	}
	if emitted {
		if err := emit(gr, names); err != nil {
			return err
		}
	}

	if totalProgram == nil {
		if !wrote {
			return w.WriteRow(append(append([]string(nil), keyNames...), plan.Names()...))
		}
		return nil
	}

	totalProgram.Finalize(false)
	tn, tv, err := totalProgram.Emit()
	if err != nil {
		return err
	}
	header := append(append([]string(nil), keyNames...), outNames...)
	header = append(header, tn...)
	if err := w.WriteRow(header); err != nil {
		return err
	}
	for _, gr := range buffered {
		out := append([]string(nil), gr.Key...)
		for _, v := range gr.Values {
			out = append(out, v.String())
		}
		for _, v := range tv {
			out = append(out, v.String())
		}
		if err := w.WriteRow(out); err != nil {
			return err
		}
	}
	return nil
}

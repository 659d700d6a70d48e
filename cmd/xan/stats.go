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

	"github.com/nullfield-labs/xan/internal/agg"
	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
	"github.com/nullfield-labs/xan/internal/recordio"
)

// runStats evaluates an ungrouped aggregation program over the whole
// stream, exercising spec.md §4.6's planner/composite/emit path
// directly (scenario 1 in spec.md §8: sum/mean/max over one column).
func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	delim := fs.String("delimiter", ",", "field delimiter")
	fs.Parse(args)
	rest := fs.Args()
	if err := requireArgs(rest, 1, "xan stats [-o file] <agg-program> [input]"); err != nil {
		return err
	}
	prog := rest[0]
	path := "-"
	if len(rest) > 1 {
		path = rest[1]
	}

	r, closeSrc, err := openSource(path, (*delim)[0], true)
	if err != nil {
		return err
	}
	defer closeSrc()

	headers := column.NewHeaders(r.Headers())
	calls, err := agg.ParseProgram(prog, headers)
	if err != nil {
		return err
	}
	plan, err := agg.BuildPlan(calls)
	if err != nil {
		return err
	}

	program := agg.NewProgram(plan, headers, nil)
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
		if err := program.Step(moonblade.RowOf(row), idx); err != nil {
			return err
		}
		idx++
	}
	program.Finalize(false)

	names, vals, err := program.Emit()
	if err != nil {
		return err
	}

	w, closeDst, err := openSink(*output, (*delim)[0])
	if err != nil {
		return err
	}
	defer closeDst()

	if err := w.WriteRow(names); err != nil {
		return err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.String()
	}
	return w.WriteRow(out)
}

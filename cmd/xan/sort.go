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
	"sort"
	"strconv"

	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/recordio"
)

// runSort sorts buffered rows by a column selection, stable with
// respect to input order for equal keys, per spec.md §5's ordering
// guarantee for the (here sequential) sort path.
func runSort(args []string) error {
	fs := flag.NewFlagSet("sort", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	delim := fs.String("delimiter", ",", "field delimiter")
	numeric := fs.Bool("numeric", false, "compare the selected column(s) as numbers")
	reverse := fs.Bool("reverse", false, "descending order")
	fs.Parse(args)
	rest := fs.Args()
	if err := requireArgs(rest, 1, "xan sort [-o file] [-numeric] [-reverse] <selector> [input]"); err != nil {
		return err
	}
	selExpr := rest[0]
	path := "-"
	if len(rest) > 1 {
		path = rest[1]
	}

	r, closeSrc, err := openSource(path, (*delim)[0], true)
	if err != nil {
		return err
	}
	headers := column.NewHeaders(r.Headers())
	sel, err := column.Parse(selExpr, headers)
	if err != nil {
		closeSrc()
		return err
	}
	rows, err := readAll(r)
	closeSrc()
	if err != nil {
		return err
	}

	less := func(a, b recordio.Row) bool {
		ka, kb := sel.Collect(a), sel.Collect(b)
		for i := range ka {
			if *numeric {
				na, aok := parseFloatField(ka[i])
				nb, bok := parseFloatField(kb[i])
				if aok && bok {
					if na != nb {
						return na < nb
					}
					continue
				}
			}
			if ka[i] != kb[i] {
				return ka[i] < kb[i]
			}
		}
		return false
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if *reverse {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})

	w, closeDst, err := openSink(*output, (*delim)[0])
	if err != nil {
		return err
	}
	defer closeDst()

	if err := w.WriteRow(headers.Names()); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return nil
}

func parseFloatField(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

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

	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
	"github.com/nullfield-labs/xan/internal/recordio"
)

// runSelect either projects a column selection (when arg looks like a
// bare selector with no `(`) or, if it parses as a named-expression
// list, evaluates each expression per row and writes the results —
// the same split the teacher's own `select`/`map` commands make.
func runSelect(args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	delim := fs.String("delimiter", ",", "field delimiter")
	fs.Parse(args)
	rest := fs.Args()
	if err := requireArgs(rest, 1, "xan select [-o file] <selector-or-exprs> [input]"); err != nil {
		return err
	}
	spec := rest[0]
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

	w, closeDst, err := openSink(*output, (*delim)[0])
	if err != nil {
		return err
	}
	defer closeDst()

	named, parseErr := moonblade.ParseNamedExprs(spec)
	if parseErr == nil && looksLikeExprList(named) {
		return selectExprs(r, w, headers, named)
	}
	return selectColumns(r, w, headers, spec)
}

// looksLikeExprList rejects a parse that moonblade happily accepted as
// a single bare identifier list (every textbook selector is also a
// syntactically valid comma list of identifiers); it only treats the
// input as an expression program when at least one entry is not a
// bare, unmodified identifier.
func looksLikeExprList(named []moonblade.NamedExpr) bool {
	for _, ne := range named {
		if _, ok := ne.Expr.(*moonblade.Ident); !ok {
			return true
		}
	}
	return false
}

func selectColumns(r recordio.Reader, w *recordio.Writer, headers *column.Headers, spec string) error {
	sel, err := column.Parse(spec, headers)
	if err != nil {
		return err
	}
	if err := w.WriteRow(sel.Collect(headers.Names())); err != nil {
		return err
	}
	var row recordio.Row
	for {
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := w.WriteRow(sel.Collect(row)); err != nil {
			return err
		}
	}
}

func selectExprs(r recordio.Reader, w *recordio.Writer, headers *column.Headers, named []moonblade.NamedExpr) error {
	ctx := &moonblade.Context{Headers: headers}
	outNames := make([]string, len(named))
	trees := make([]moonblade.Node, len(named))
	for i, ne := range named {
		n, err := moonblade.Concretize(ne.Expr, ctx)
		if err != nil {
			return &moonblade.ConcretizeError{Expr: ne.Name, Err: err}
		}
		trees[i] = n
		outNames[i] = ne.Name
	}
	if err := w.WriteRow(outNames); err != nil {
		return err
	}

	var row recordio.Row
	var idx int64
	for {
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		bs := moonblade.RowOf(row)
		out := make([]string, len(trees))
		for i, n := range trees {
			v, err := moonblade.Eval(n, &moonblade.Ctx{Row: bs, Headers: headers, Index: idx, HasIdx: true})
			if err != nil {
				return err
			}
			out[i] = v.String()
		}
		if err := w.WriteRow(out); err != nil {
			return err
		}
		idx++
	}
}

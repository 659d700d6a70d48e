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

package join

import (
	"fmt"

	"github.com/nullfield-labs/xan/internal/column"
)

// Variant names one of spec.md §4.8's seven join kinds.
type Variant int

const (
	Inner Variant = iota
	Left
	Right
	Full
	Semi
	Anti
	Cross
)

// Options configures a join run.
type Options struct {
	CaseInsensitive bool
	Nulls           bool
}

// Reader abstracts a record stream: every row after the header, in
// order. Rows are raw string cells; no expression evaluation happens
// during a join.
type Reader interface {
	Headers() []string
	Next() ([]string, bool, error)
}

// padding returns width empty cells, for padding the unmatched side
// of an outer join.
func padding(width int) []string {
	return make([]string, width)
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// Run executes variant over left/right with the given column
// selector expressions, calling emit(headers) once and emit(row) for
// every output row, in the order spec.md §4.8 describes. Column-count
// mismatch between the two selections is rejected up front, except
// for cross joins which ignore the selectors entirely.
func Run(variant Variant, left, right Reader, leftSelExpr, rightSelExpr string, opts Options, emitHeaders func([]string), emitRow func([]string) error) error {
	leftHeaders := column.NewHeaders(left.Headers())
	rightHeaders := column.NewHeaders(right.Headers())

	var leftSel, rightSel *column.Selection
	if variant != Cross {
		var err error
		leftSel, err = column.Parse(leftSelExpr, leftHeaders)
		if err != nil {
			return fmt.Errorf("left columns: %w", err)
		}
		rightSel, err = column.Parse(rightSelExpr, rightHeaders)
		if err != nil {
			return fmt.Errorf("right columns: %w", err)
		}
		if leftSel.Len() != rightSel.Len() {
			return fmt.Errorf("join: left selection has %d columns, right has %d", leftSel.Len(), rightSel.Len())
		}
	}

	switch variant {
	case Inner:
		return runInner(left, right, leftSel, rightSel, opts, emitHeaders, emitRow)
	case Full:
		return runFull(left, right, leftSel, rightSel, opts, emitHeaders, emitRow)
	case Left:
		return runLeft(left, right, leftSel, rightSel, opts, emitHeaders, emitRow)
	case Right:
		return runRight(left, right, leftSel, rightSel, opts, emitHeaders, emitRow)
	case Semi:
		return runSemiAnti(left, right, leftSel, rightSel, opts, false, emitHeaders, emitRow)
	case Anti:
		return runSemiAnti(left, right, leftSel, rightSel, opts, true, emitHeaders, emitRow)
	case Cross:
		return runCross(left, right, emitHeaders, emitRow)
	}
	return fmt.Errorf("join: unknown variant %d", variant)
}

func drain(r Reader) ([][]string, error) {
	var rows [][]string
	for {
		row, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, row)
	}
}

// runInner indexes the left side and streams the right, per spec.md
// §4.8's indexed-side table. Matches are collected per left row and
// emitted once the right side is exhausted, so output follows left row
// order, with each left row's matches in right row order.
func runInner(left, right Reader, leftSel, rightSel *column.Selection, opts Options, emitHeaders func([]string), emitRow func([]string) error) error {
	emitHeaders(concat(left.Headers(), right.Headers()))

	ix := NewIndex(opts.CaseInsensitive, opts.Nulls)
	leftRows, err := drain(left)
	if err != nil {
		return err
	}
	for _, row := range leftRows {
		ix.Add(leftSel, row)
	}

	matches := make([][][]string, len(ix.nodes))
	for {
		rrow, ok, err := right.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for i := ix.head(rightSel, rrow); i != -1; i = ix.nodes[i].next {
			matches[i] = append(matches[i], rrow)
		}
	}
	for i, n := range ix.nodes {
		for _, rrow := range matches[i] {
			if err := emitRow(concat(n.row, rrow)); err != nil {
				return err
			}
		}
	}
	return nil
}

// runFull indexes the left side, streams the right, then emits every
// never-matched left row padded with right-side blanks.
func runFull(left, right Reader, leftSel, rightSel *column.Selection, opts Options, emitHeaders func([]string), emitRow func([]string) error) error {
	leftHeaders := left.Headers()
	rightHeaders := right.Headers()
	emitHeaders(concat(leftHeaders, rightHeaders))
	rightPad := padding(len(rightHeaders))
	leftPad := padding(len(leftHeaders))

	ix := NewIndex(opts.CaseInsensitive, opts.Nulls)
	leftRows, err := drain(left)
	if err != nil {
		return err
	}
	for _, row := range leftRows {
		ix.Add(leftSel, row)
	}

	for {
		rrow, ok, err := right.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		matched, err := ix.ForEachMatch(rightSel, rrow, true, func(lrow []string) error {
			return emitRow(concat(lrow, rrow))
		})
		if err != nil {
			return err
		}
		if !matched {
			if err := emitRow(concat(leftPad, rrow)); err != nil {
				return err
			}
		}
	}

	for _, lrow := range ix.Unwritten() {
		if err := emitRow(concat(lrow, rightPad)); err != nil {
			return err
		}
	}
	return nil
}

// runLeft indexes the right side and streams the left.
func runLeft(left, right Reader, leftSel, rightSel *column.Selection, opts Options, emitHeaders func([]string), emitRow func([]string) error) error {
	leftHeaders := left.Headers()
	rightHeaders := right.Headers()
	emitHeaders(concat(leftHeaders, rightHeaders))
	rightPad := padding(len(rightHeaders))

	ix := NewIndex(opts.CaseInsensitive, opts.Nulls)
	rightRows, err := drain(right)
	if err != nil {
		return err
	}
	for _, row := range rightRows {
		ix.Add(rightSel, row)
	}

	for {
		lrow, ok, err := left.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		matched, err := ix.ForEachMatch(leftSel, lrow, false, func(rrow []string) error {
			return emitRow(concat(lrow, rrow))
		})
		if err != nil {
			return err
		}
		if !matched {
			if err := emitRow(concat(lrow, rightPad)); err != nil {
				return err
			}
		}
	}
	return nil
}

// runRight indexes the left side and streams the right.
func runRight(left, right Reader, leftSel, rightSel *column.Selection, opts Options, emitHeaders func([]string), emitRow func([]string) error) error {
	leftHeaders := left.Headers()
	rightHeaders := right.Headers()
	emitHeaders(concat(leftHeaders, rightHeaders))
	leftPad := padding(len(leftHeaders))

	ix := NewIndex(opts.CaseInsensitive, opts.Nulls)
	leftRows, err := drain(left)
	if err != nil {
		return err
	}
	for _, row := range leftRows {
		ix.Add(leftSel, row)
	}

	for {
		rrow, ok, err := right.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		matched, err := ix.ForEachMatch(rightSel, rrow, false, func(lrow []string) error {
			return emitRow(concat(lrow, rrow))
		})
		if err != nil {
			return err
		}
		if !matched {
			if err := emitRow(concat(leftPad, rrow)); err != nil {
				return err
			}
		}
	}
	return nil
}

// runSemiAnti indexes the right side's keys and streams the left,
// keeping (semi) or dropping (anti) rows with a matching key.
func runSemiAnti(left, right Reader, leftSel, rightSel *column.Selection, opts Options, anti bool, emitHeaders func([]string), emitRow func([]string) error) error {
	emitHeaders(append([]string(nil), left.Headers()...))

	ks := NewKeySet(opts.CaseInsensitive, opts.Nulls)
	rightRows, err := drain(right)
	if err != nil {
		return err
	}
	for _, row := range rightRows {
		ks.Add(rightSel, row)
	}

	for {
		lrow, ok, err := left.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		isMatch := ks.Contains(leftSel, lrow)
		if anti {
			isMatch = !isMatch
		}
		if isMatch {
			if err := emitRow(lrow); err != nil {
				return err
			}
		}
	}
	return nil
}

// runCross indexes the right side in full (materialized, since every
// left row revisits it) and streams the left, emitting the cartesian
// product.
func runCross(left, right Reader, emitHeaders func([]string), emitRow func([]string) error) error {
	emitHeaders(concat(left.Headers(), right.Headers()))

	rightRows, err := drain(right)
	if err != nil {
		return err
	}

	for {
		lrow, ok, err := left.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for _, rrow := range rightRows {
			if err := emitRow(concat(lrow, rrow)); err != nil {
				return err
			}
		}
	}
	return nil
}

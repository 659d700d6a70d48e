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
	"fmt"

	"github.com/nullfield-labs/xan/internal/join"
)

// sliceReader adapts an in-memory header + row slice to join.Reader.
type sliceReader struct {
	headers []string
	rows    [][]string
	i       int
}

func (s *sliceReader) Headers() []string { return s.headers }

func (s *sliceReader) Next() ([]string, bool, error) {
	if s.i >= len(s.rows) {
		return nil, false, nil
	}
	row := s.rows[s.i]
	s.i++
	return row, true, nil
}

func parseVariant(name string) (join.Variant, error) {
	switch name {
	case "inner":
		return join.Inner, nil
	case "left":
		return join.Left, nil
	case "right":
		return join.Right, nil
	case "full":
		return join.Full, nil
	case "semi":
		return join.Semi, nil
	case "anti":
		return join.Anti, nil
	case "cross":
		return join.Cross, nil
	}
	return 0, fmt.Errorf("join: unknown variant %q (want inner, left, right, full, semi, anti, cross)", name)
}

// runJoin equi-joins two whole files held in memory against the
// in-memory chained-bucket index of spec.md §4.8 (scenario 3 of §8).
func runJoin(args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	delim := fs.String("delimiter", ",", "field delimiter")
	caseInsensitive := fs.Bool("ignore-case", false, "lowercase both sides before hashing")
	nulls := fs.Bool("nulls", false, "don't skip rows whose join key is entirely empty")
	fs.Parse(args)
	rest := fs.Args()
	if err := requireArgs(rest, 5, "xan join [-o file] <variant> <left> <left-selector> <right> <right-selector>"); err != nil {
		return err
	}
	variant, err := parseVariant(rest[0])
	if err != nil {
		return err
	}
	leftPath, leftSel, rightPath, rightSel := rest[1], rest[2], rest[3], rest[4]

	leftReader, closeLeft, err := openSource(leftPath, (*delim)[0], true)
	if err != nil {
		return err
	}
	leftRows, err := readAll(leftReader)
	leftHeaders := leftReader.Headers()
	closeLeft()
	if err != nil {
		return err
	}

	rightReader, closeRight, err := openSource(rightPath, (*delim)[0], true)
	if err != nil {
		return err
	}
	rightRows, err := readAll(rightReader)
	rightHeaders := rightReader.Headers()
	closeRight()
	if err != nil {
		return err
	}

	left := &sliceReader{headers: leftHeaders, rows: leftRows}
	right := &sliceReader{headers: rightHeaders, rows: rightRows}

	w, closeDst, err := openSink(*output, (*delim)[0])
	if err != nil {
		return err
	}
	defer closeDst()

	var headerErr error
	opts := join.Options{CaseInsensitive: *caseInsensitive, Nulls: *nulls}
	runErr := join.Run(variant, left, right, leftSel, rightSel, opts,
		func(headers []string) { headerErr = w.WriteRow(headers) },
		func(row []string) error { return w.WriteRow(row) })
	if headerErr != nil {
		return headerErr
	}
	return runErr
}

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
	"io"
	"os"

	"github.com/nullfield-labs/xan/internal/recordio"
)

// runBehead drops the header row. It is one of spec.md §1's trivial
// row-shape utilities: specified only insofar as it consumes the
// streaming pipeline, so it uses the fast raw splitter rather than
// the quoting-aware CSV reader — behead never looks at field
// boundaries, only at the first line terminator.
func runBehead(args []string) error {
	fs := flag.NewFlagSet("behead", flag.ExitOnError)
	output := fs.String("o", "", "output file (default stdout)")
	delim := fs.String("delimiter", ",", "field delimiter")
	fs.Parse(args)
	rest := fs.Args()

	path := "-"
	if len(rest) > 0 {
		path = rest[0]
	}

	var src io.Reader = os.Stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
		if recordio.IsGzip(path) {
			src, err = recordio.Gunzip(f)
			if err != nil {
				return err
			}
		}
	}

	r := recordio.NewRawSplitter(src, (*delim)[0])
	r.Headers() // consume and discard the header line

	w, closeDst, err := openSink(*output, (*delim)[0])
	if err != nil {
		return err
	}
	defer closeDst()

	var row recordio.Row
	for {
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
}

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
	"fmt"
	"io"
	"os"

	"github.com/nullfield-labs/xan/internal/recordio"
)

// openSource opens path for streaming ("-" means stdin), transparently
// decompressing a trailing .gz and applying any extension-implied
// dialect (VCF/GTF/GFF tab delimiter), then returns a ready reader.
func openSource(path string, delim byte, explicitDelim bool) (recordio.Reader, func() error, error) {
	opts := recordio.DefaultOptions()
	if explicitDelim {
		opts.Delimiter = delim
	}

	if path == "-" || path == "" {
		return mustReader(os.Stdin, opts, func() error { return nil })
	}

	recordio.ApplyExtensionDialect(path, &opts, explicitDelim)

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	closeFn := f.Close

	var src io.Reader = f
	if recordio.IsGzip(path) {
		src, err = recordio.Gunzip(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
	}
	return mustReader(src, opts, closeFn)
}

func mustReader(src io.Reader, opts recordio.Options, closeFn func() error) (recordio.Reader, func() error, error) {
	r, err := recordio.NewCSVReader(src, opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return r, closeFn, nil
}

// openSink opens path for writing ("" or "-" means stdout).
func openSink(path string, delim byte) (*recordio.Writer, func() error, error) {
	opts := recordio.DefaultOptions()
	opts.Delimiter = delim

	if path == "" || path == "-" {
		w := recordio.NewWriter(os.Stdout, opts)
		return w, w.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	w := recordio.NewWriter(f, opts)
	return w, func() error {
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// readAll drains r fully into memory, for commands (sort, join) that
// need a whole-stream buffer rather than a single forward pass.
func readAll(r recordio.Reader) ([]recordio.Row, error) {
	var rows []recordio.Row
	for {
		var row recordio.Row
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, append(recordio.Row(nil), row...))
	}
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

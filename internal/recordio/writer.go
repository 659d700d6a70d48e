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

package recordio

import (
	"bufio"
	"encoding/csv"
	"io"
)

// Writer serializes rows with the same quoting discipline a Reader
// was configured with.
type Writer struct {
	w  *bufio.Writer
	cw *csv.Writer
}

// NewWriter builds a buffered, quoted writer over w.
func NewWriter(w io.Writer, opts Options) *Writer {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	cw.Comma = rune(opts.Delimiter)
	return &Writer{w: bw, cw: cw}
}

// WriteRow writes fields as one record.
func (w *Writer) WriteRow(fields Row) error {
	return w.cw.Write(fields)
}

// WriteRecord is an alias for WriteRow kept for call-site symmetry
// with Reader.ReadByteRecord.
func (w *Writer) WriteRecord(fields Row) error {
	return w.WriteRow(fields)
}

// Flush flushes any buffered output. It must be called before the
// underlying writer is closed.
func (w *Writer) Flush() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return err
	}
	return w.w.Flush()
}

// AppendTarget reports whether a stat of the target (its size and
// error) shows an existing, non-empty file, the condition under which
// an append-mode writer must skip writing the header row.
func AppendTarget(size int64, err error) bool {
	return err == nil && size > 0
}

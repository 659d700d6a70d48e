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

// Package recordio streams delimited rows from a source or to a sink,
// with optional gzip transparency, seekable random access by byte
// offset, and reverse iteration.
package recordio

import "errors"

// ErrFlexible is returned by a non-flexible reader when a row's width
// does not match the header width.
var ErrFlexible = errors.New("recordio: row width does not match header (use flexible mode)")

// Row is an ordered sequence of opaque cells. Only the quoted csv
// reader checks row width, and only when Options.Flexible is unset
// (it then returns ErrFlexible); the raw splitter never checks it,
// and no reader pads short rows.
type Row = []string

// Reader is the common surface every record source exposes: a header
// row, a pull-one-record call, and a byte position (the offset just
// past the last consumed record terminator).
type Reader interface {
	// Headers returns the header row read at construction time.
	Headers() Row
	// ReadByteRecord reads the next record into *dst, reusing its
	// backing array when possible, and reports whether a record was
	// produced (false at end of stream).
	ReadByteRecord(dst *Row) (bool, error)
	// Position returns the byte offset of the reader in its source,
	// measured just after the last record terminator consumed.
	Position() int64
}

// Options configure the dialect accepted by a streaming reader.
type Options struct {
	// Delimiter separates fields within a record. Defaults to ','.
	Delimiter byte
	// Quote records the quoting byte (0 for --no-quoting mode).
	// NewCSVReader and NewWriter do not consult it: both always
	// quote with '"'.
	Quote byte
	// Escape records an escape byte for literal quotes inside quoted
	// fields. NewCSVReader does not consult it; such quotes are
	// always doubled.
	Escape byte
	// Flexible accepts rows whose width differs from the header.
	Flexible bool
	// PreambleLines skips this many lines before the header (-L).
	PreambleLines int
	// PreambleRegexp, if non-empty, skips leading lines matching it
	// before the header (-H).
	PreambleRegexp string
	// RowFilterRegexp, if non-empty, keeps only data rows whose first
	// field matches it (-R), applied after the preamble is skipped.
	RowFilterRegexp string
	// NoHeader treats the first data row as data, not a header.
	NoHeader bool
}

// DefaultOptions returns comma-delimited, double-quoted, non-flexible
// options, matching the package default dialect.
func DefaultOptions() Options {
	return Options{Delimiter: ',', Quote: '"'}
}

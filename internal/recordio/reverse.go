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
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// ReverseReader yields rows from last to first given a Seekable
// source and its size, reading backwards in fixed chunks and locating
// newline boundaries. It assumes (as the streaming fast path does)
// that no record spans more than one physical line; quoted fields
// containing embedded newlines are not reversible by this reader.
type ReverseReader struct {
	src   Seekable
	delim byte

	chunkSize int64
	cursor    int64 // end of the unread region, exclusive
	floor     int64 // byte offset before which reading must stop (end of header row)
	carry     []byte

	pending [][]byte
}

// NewReverseReader builds a reverse row iterator over src, starting
// at src.Size() and splitting fields on delim. headerEnd is the byte
// offset just past the header row, so the header itself is never
// yielded by Next.
func NewReverseReader(src Seekable, delim byte, headerEnd int64) *ReverseReader {
	return &ReverseReader{
		src:       src,
		delim:     delim,
		chunkSize: 64 * 1024,
		cursor:    src.Size(),
		floor:     headerEnd,
	}
}

// Next returns the next record (walking from the end of the source
// toward the start) or io.EOF when the header boundary is reached.
func (r *ReverseReader) Next() (Row, error) {
	for len(r.pending) == 0 {
		if r.cursor <= r.floor {
			if len(r.carry) > 0 {
				line := r.carry
				r.carry = nil
				if len(bytes.TrimSpace(line)) > 0 {
					r.pending = append(r.pending, line)
				}
				break
			}
			return nil, io.EOF
		}
		size := r.chunkSize
		start := r.cursor - size
		if start < r.floor {
			start = r.floor
		}
		buf := make([]byte, r.cursor-start)
		if _, err := r.src.ReadAt(buf, start); err != nil && err != io.EOF {
			return nil, err
		}
		r.cursor = start

		if len(r.carry) > 0 {
			buf = append(buf, r.carry...)
			r.carry = nil
		}

		lines := bytes.Split(buf, []byte{'\n'})
		// the first element may be a partial line continued by an
		// earlier (lower-offset) chunk; keep it as carry unless we've
		// hit the floor, in which case it is a complete first line.
		if start > r.floor {
			r.carry = lines[0]
			lines = lines[1:]
		}
		for i := len(lines) - 1; i >= 0; i-- {
			if len(bytes.TrimSpace(lines[i])) > 0 {
				r.pending = append(r.pending, lines[i])
			}
		}
	}

	line := r.pending[0]
	r.pending = r.pending[1:]
	rec, err := parseLine(string(line), r.delim)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func parseLine(line string, delim byte) (Row, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.Comma = rune(delim)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.Read()
}

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
	"bytes"
	"io"

	"golang.org/x/exp/slices"
)

// rawSplitter splits a line on a raw delimiter byte without any
// quoting discipline, using `\t`/`\r`/`\n`/`\\` escape sequences
// instead (the TSV convention). It is the "fast splitter" used by
// callers that don't need field quoting, such as header inspection or
// simple enumeration.
type rawSplitter struct {
	delim  byte
	s      *bufio.Scanner
	src    *countingReader
	n      int64
	starts []int
	ends   []int
	fields Row
}

// NewRawSplitter builds a fast splitter over r that splits each line
// on delim, unescaping `\t \r \n \\`. Each record is exactly one line.
func NewRawSplitter(r io.Reader, delim byte) Reader {
	src := &countingReader{r: bufio.NewReader(r)}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &splitterReader{raw: &rawSplitter{delim: delim, s: sc, src: src}}
}

// splitterReader adapts rawSplitter (which has no header concept on
// its own) to the Reader interface: the first line is the header when
// Headers is called before any ReadByteRecord; otherwise that line is
// returned as data and Headers reports nil.
type splitterReader struct {
	raw     *rawSplitter
	headers Row
	read    bool
}

func (s *splitterReader) Headers() Row {
	if !s.read {
		var row Row
		if ok, _ := s.ReadByteRecord(&row); ok {
			s.headers = row
		}
	}
	return s.headers
}

func (s *splitterReader) ReadByteRecord(dst *Row) (bool, error) {
	s.read = true
	rec, err := s.raw.next()
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	*dst = append((*dst)[:0], rec...)
	return true, nil
}

func (s *splitterReader) Position() int64 { return s.raw.n }

func (r *rawSplitter) next() (Row, error) {
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	r.n += int64(len(r.s.Bytes())) + 1

	line := r.s.Bytes()
	r.fields = r.fields[:0]
	r.starts = r.starts[:0]
	r.ends = r.ends[:0]

	col := 0
	nextEscape := bytes.IndexByte(line, '\\')
	for {
		startCol := col
		nextSep := bytes.IndexByte(line[col:], r.delim)
		if nextSep == -1 {
			nextSep = len(line)
		} else {
			nextSep += col
		}
		escapes := 0
		if nextEscape == -1 || nextSep < nextEscape {
			col = nextSep
		} else {
			col = nextEscape
			for ; col < nextSep; col++ {
				if line[col] == '\\' && col+1 < nextSep {
					if repl := unescape(line[col+1]); repl != 0 {
						line[col-escapes] = repl
						col++
						escapes++
						continue
					}
				}
				line[col-escapes] = line[col]
			}
			nextEscape = bytes.IndexByte(line[col:], '\\')
			if nextEscape != -1 {
				nextEscape += col
			}
		}
		r.starts = append(r.starts, startCol)
		r.ends = append(r.ends, col-escapes)
		if col == len(line) {
			break
		}
		col++
	}

	if cap(r.fields) < len(r.starts) {
		r.fields = slices.Grow(r.fields[:0], len(r.starts))
	}
	text := string(line)
	for i := range r.starts {
		r.fields = append(r.fields, text[r.starts[i]:r.ends[i]])
	}
	return r.fields, nil
}

func unescape(c byte) byte {
	switch c {
	case '\\':
		return '\\'
	case 't':
		return '\t'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	default:
		return 0
	}
}

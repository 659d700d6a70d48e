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
	"regexp"
	"strings"
)

// csvReader streams quoted, delimited records from a byte source. It
// follows RFC 4180 quoting (a literal quote inside a quoted field is
// doubled). The quote byte is always '"'; opts.Quote and opts.Escape
// are not consulted.
type csvReader struct {
	cr      *csv.Reader
	src     *countingReader
	base    int64 // bytes consumed by the preamble, before cr starts
	headers Row
	opts    Options
	rowFilter *regexp.Regexp
}

// NewCSVReader builds a streaming quoted-CSV reader over r. It skips
// any configured preamble, reads the header row (unless opts.NoHeader
// is set), and is ready to serve ReadByteRecord.
func NewCSVReader(r io.Reader, opts Options) (Reader, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	src := &countingReader{r: bufio.NewReader(r)}
	if err := skipPreamble(src, opts); err != nil {
		return nil, err
	}

	cr := csv.NewReader(src)
	cr.Comma = rune(opts.Delimiter)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.LazyQuotes = true
	if opts.Quote == 0 {
		// encoding/csv cannot turn quoting off: '"' still opens a
		// quoted field here, and LazyQuotes only lets a stray quote
		// inside an unquoted field pass through.
		cr.LazyQuotes = true
	}

	rd := &csvReader{cr: cr, src: src, base: src.n, opts: opts}
	if opts.RowFilterRegexp != "" {
		re, err := regexp.Compile(opts.RowFilterRegexp)
		if err != nil {
			return nil, err
		}
		rd.rowFilter = re
	}

	if !opts.NoHeader {
		rec, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				rd.headers = Row{}
				return rd, nil
			}
			return nil, err
		}
		rd.headers = append(Row(nil), rec...)
	}
	return rd, nil
}

func (r *csvReader) Headers() Row { return r.headers }

func (r *csvReader) Position() int64 { return r.base + r.cr.InputOffset() }

func (r *csvReader) ReadByteRecord(dst *Row) (bool, error) {
	for {
		rec, err := r.cr.Read()
		if err != nil {
			if err == io.EOF {
				return false, nil
			}
			return false, err
		}
		if !r.opts.Flexible && r.headers != nil && len(rec) != len(r.headers) {
			return false, ErrFlexible
		}
		if r.rowFilter != nil && len(rec) > 0 && !r.rowFilter.MatchString(rec[0]) {
			continue
		}
		*dst = append((*dst)[:0], rec...)
		return true, nil
	}
}

// countingReader wraps a bufio.Reader and tracks the number of bytes
// handed out; skipPreamble adds the preamble lines it drops, so the
// csv reader can take n as the offset at which its own input starts.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func skipPreamble(src *countingReader, opts Options) error {
	if opts.PreambleLines == 0 && opts.PreambleRegexp == "" {
		return nil
	}
	var re *regexp.Regexp
	var err error
	if opts.PreambleRegexp != "" {
		re, err = regexp.Compile(opts.PreambleRegexp)
		if err != nil {
			return err
		}
	}
	skipped := 0
	for {
		peek, err := src.r.Peek(1)
		if err != nil || len(peek) == 0 {
			return nil
		}
		line, err := src.r.ReadString('\n')
		shouldSkip := false
		if skipped < opts.PreambleLines {
			shouldSkip = true
		} else if re != nil && re.MatchString(line) {
			shouldSkip = true
		}
		if !shouldSkip {
			// push the line back by prepending it to the remaining stream;
			// its bytes are counted when actually consumed from there.
			src.r = bufio.NewReader(io.MultiReader(strings.NewReader(line), src.r))
			return nil
		}
		src.n += int64(len(line))
		skipped++
		if err == io.EOF {
			return nil
		}
	}
}

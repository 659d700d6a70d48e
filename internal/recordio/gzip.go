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
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// gzipReader presents a multi-member gzip stream as one continuous
// byte stream, matching `gzip -d`'s handling of concatenated members.
// Unlike the standard library's compress/gzip, klauspost/compress
// transparently advances across member boundaries on Read without the
// caller having to call Multistream(true) per member reset, which
// matters here because moonblade callers may read well past the first
// member on files produced by parallel `xan` writers.
type gzipReader struct {
	zr *gzip.Reader
}

// Gunzip wraps r in a transparent multi-member gzip decompressor.
func Gunzip(r io.Reader) (io.Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	zr.Multistream(true)
	return &gzipReader{zr: zr}, nil
}

func (g *gzipReader) Read(p []byte) (int, error) {
	return g.zr.Read(p)
}

// dialectForExtension inspects a file extension and returns the
// delimiter and preamble-skip regexp it implies (VCF/GTF/GFF auto-tab
// delimiter with format-specific comment preambles), or ok=false when
// the extension carries no special dialect.
func dialectForExtension(name string) (delim byte, preamble string, ok bool) {
	trimmed := strings.TrimSuffix(name, ".gz")
	switch {
	case strings.HasSuffix(trimmed, ".vcf"):
		return '\t', `^##`, true
	case strings.HasSuffix(trimmed, ".gtf"), strings.HasSuffix(trimmed, ".gff2"):
		return '\t', `^#`, true
	case strings.HasSuffix(trimmed, ".gff"), strings.HasSuffix(trimmed, ".gff3"):
		return '\t', `^#`, true
	}
	return 0, "", false
}

// IsGzip reports whether name names a gzip-compressed file by
// extension convention.
func IsGzip(name string) bool {
	return strings.HasSuffix(name, ".gz")
}

// ApplyExtensionDialect mutates opts in place to reflect the auto-tab
// delimiter and preamble regexp implied by name's extension, without
// overriding a delimiter the caller already set explicitly.
func ApplyExtensionDialect(name string, opts *Options, explicitDelim bool) {
	delim, preamble, ok := dialectForExtension(name)
	if !ok {
		return
	}
	if !explicitDelim {
		opts.Delimiter = delim
	}
	if opts.PreambleRegexp == "" {
		opts.PreambleRegexp = preamble
	}
}

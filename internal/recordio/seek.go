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
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// Seekable is a random-access byte source with a known total size.
// Plain files satisfy it directly; indexed gzip files satisfy it via
// indexedGzip below.
type Seekable interface {
	io.ReaderAt
	Size() int64
}

// fileSeekable adapts *os.File to Seekable.
type fileSeekable struct {
	f    *os.File
	size int64
}

// OpenFile opens path for random access. The caller must Close the
// returned file when the reader returned alongside it is done.
func OpenFile(path string) (*os.File, Seekable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, &fileSeekable{f: f, size: fi.Size()}, nil
}

func (f *fileSeekable) ReadAt(p []byte, off int64) (int, error) { return f.f.ReadAt(p, off) }
func (f *fileSeekable) Size() int64                             { return f.size }

// indexedGzip presents a block-indexed gzip file (see blockindex.go)
// as a Seekable over its uncompressed content, decompressing one
// member at a time on demand.
type indexedGzip struct {
	gz      io.ReaderAt
	gzSize  int64 // compressed file size, the end of the last member
	entries []BlockEntry
	size    int64 // uncompressed size, derived from the last block read

	cachedBlock int
	cachedData  []byte
}

// OpenIndexedGzip opens a .gz file together with its sidecar block
// index, returning a Seekable over the decompressed content.
func OpenIndexedGzip(gzPath string) (*os.File, Seekable, error) {
	idxF, err := os.Open(IndexPathFor(gzPath))
	if err != nil {
		return nil, nil, err
	}
	entries, err := ReadIndex(idxF)
	idxF.Close()
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(gzPath)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	ig := &indexedGzip{gz: f, gzSize: fi.Size(), entries: entries, cachedBlock: -1}
	// decompress the final block once to learn the total uncompressed size.
	if len(entries) > 0 {
		last, err := ig.block(len(entries)-1, fi.Size())
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		ig.size = entries[len(entries)-1].UncompressedOffset + int64(len(last))
	}
	return f, ig, nil
}

func (ig *indexedGzip) Size() int64 { return ig.size }

// block decompresses the i'th member in full, caching the single most
// recently used block (sequential scans, which dominate usage here,
// then cost one decompression per block instead of per ReadAt call).
func (ig *indexedGzip) block(i int, fileSize int64) ([]byte, error) {
	if ig.cachedBlock == i {
		return ig.cachedData, nil
	}
	start := ig.entries[i].CompressedOffset
	var end int64
	if i+1 < len(ig.entries) {
		end = ig.entries[i+1].CompressedOffset
	} else {
		end = fileSize
	}
	raw := make([]byte, end-start)
	if _, err := ig.gz.ReadAt(raw, start); err != nil && err != io.EOF {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	ig.cachedBlock = i
	ig.cachedData = data
	return data, nil
}

func (ig *indexedGzip) ReadAt(p []byte, off int64) (int, error) {
	// find the last block whose start is <= off
	i := sort.Search(len(ig.entries), func(i int) bool {
		return ig.entries[i].UncompressedOffset > off
	}) - 1
	if i < 0 {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		data, err := ig.block(i, ig.gzSize)
		if err != nil {
			return total, err
		}
		blockStart := ig.entries[i].UncompressedOffset
		within := int(off + int64(total) - blockStart)
		if within < 0 || within >= len(data) {
			return total, io.EOF
		}
		n := copy(p[total:], data[within:])
		total += n
		if total < len(p) {
			if i+1 >= len(ig.entries) {
				return total, io.EOF
			}
			i++
		}
	}
	return total, nil
}

// ApproxRowCount estimates the number of records in a seekable source
// by reading the first sampleSize records, noting the maximum record
// size, then dividing the total byte size by the mean record size.
func ApproxRowCount(r Reader, sampleSize int, totalSize int64) (int64, error) {
	if sampleSize <= 0 {
		sampleSize = 512
	}
	var row Row
	var sumLen, maxLen, n int64
	for i := 0; i < sampleSize; i++ {
		before := r.Position()
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		sz := r.Position() - before
		sumLen += sz
		if sz > maxLen {
			maxLen = sz
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	mean := float64(sumLen) / float64(n)
	if mean <= 0 {
		return 0, nil
	}
	_ = maxLen
	est := float64(totalSize) / mean
	return int64(est + 0.5), nil
}

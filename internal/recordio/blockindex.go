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
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// blockIndexMagic tags the sidecar format so a stray file with the
// naming convention isn't mistaken for a real index.
const blockIndexMagic = "xanblkidx1\n"

// BlockEntry maps one gzip-member's starting compressed offset to its
// starting uncompressed offset. Blocks are independently compressed
// gzip members (no cross-member back-references), which is what makes
// seeking into the middle of the compressed stream possible at all.
type BlockEntry struct {
	CompressedOffset   int64
	UncompressedOffset int64
}

// IndexPathFor returns the sidecar path for a compressed file, by
// naming convention (the presence of this file is how --parallel and
// approximate counting detect that a .gz input is seekable).
func IndexPathFor(gzPath string) string {
	return gzPath + ".xani"
}

// HasIndex reports whether a sidecar index exists for gzPath.
func HasIndex(gzPath string) bool {
	_, err := os.Stat(IndexPathFor(gzPath))
	return err == nil
}

// WriteIndex serializes entries to w.
func WriteIndex(w io.Writer, entries []BlockEntry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(blockIndexMagic); err != nil {
		return err
	}
	var buf [binary.MaxVarintLen64]byte
	putUvarint := func(v int64) error {
		n := binary.PutUvarint(buf[:], uint64(v))
		_, err := bw.Write(buf[:n])
		return err
	}
	if err := putUvarint(int64(len(entries))); err != nil {
		return err
	}
	var prevC, prevU int64
	for _, e := range entries {
		if err := putUvarint(e.CompressedOffset - prevC); err != nil {
			return err
		}
		if err := putUvarint(e.UncompressedOffset - prevU); err != nil {
			return err
		}
		prevC, prevU = e.CompressedOffset, e.UncompressedOffset
	}
	return bw.Flush()
}

// ReadIndex deserializes a sidecar index previously written by
// WriteIndex.
func ReadIndex(r io.Reader) ([]BlockEntry, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(blockIndexMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if string(magic) != blockIndexMagic {
		return nil, errors.New("recordio: not a block index file")
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	entries := make([]BlockEntry, n)
	var prevC, prevU int64
	for i := range entries {
		dc, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		du, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		prevC += int64(dc)
		prevU += int64(du)
		entries[i] = BlockEntry{CompressedOffset: prevC, UncompressedOffset: prevU}
	}
	return entries, nil
}

// WriteIndexAtomic writes entries to IndexPathFor(gzPath) via a
// temp-file-then-rename so a crash mid-write never leaves a corrupt
// sidecar for a later --parallel run to trip over.
func WriteIndexAtomic(gzPath string, entries []BlockEntry) error {
	final := IndexPathFor(gzPath)
	tmp := final + "." + uuid.New().String() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteIndex(f, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}

// DefaultBlockSize is the target amount of uncompressed data per
// independently-compressed gzip member when building an indexed file.
const DefaultBlockSize = 4 << 20

// BuildIndexedGzip compresses src into dst as a sequence of
// independent gzip members of roughly blockSize uncompressed bytes
// each, and returns the BlockEntry list describing where each member
// begins. Because every member starts with a fresh deflate window,
// any member can be decompressed on its own without replaying the
// ones before it.
func BuildIndexedGzip(dst io.Writer, src io.Reader, blockSize int) ([]BlockEntry, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	cw := &countingWriter{w: dst}
	var entries []BlockEntry
	var uncompressed int64
	buf := make([]byte, blockSize)

	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			entries = append(entries, BlockEntry{
				CompressedOffset:   cw.n,
				UncompressedOffset: uncompressed,
			})
			zw := gzip.NewWriter(cw)
			if _, err := zw.Write(buf[:n]); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			uncompressed += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}
	return entries, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

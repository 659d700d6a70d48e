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

// Package parallel shards a seekable record source into byte ranges,
// runs a job over each range on its own goroutine, and merges the
// partial results, per spec.md §4.9.
package parallel

import (
	"runtime"

	"github.com/nullfield-labs/xan/internal/recordio"
)

// ByteRange is a half-open [Start, End) span of a Seekable source
// whose boundaries fall on record terminators.
type ByteRange struct {
	Start, End int64
}

// minShardSize keeps a shard from being so small that the worker
// overhead swamps the work; below this the harness just runs fewer,
// larger shards.
const minShardSize = 1 << 20 // 1 MiB

// DefaultThreads picks a shard count per spec.md §4.9: the platform's
// CPU count, but never more than the file comfortably supports at
// minShardSize per shard, and never zero.
func DefaultThreads(fileSize int64) int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	bySize := int(fileSize / minShardSize)
	if bySize < 1 {
		bySize = 1
	}
	if bySize < n {
		n = bySize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ComputeShards divides [headerEnd, size) into up to n byte ranges
// whose boundaries land just after the next record terminator at or
// after each target split point, so no worker ever starts mid-record.
// Boundaries are found by '\n' alone, whatever the field delimiter.
func ComputeShards(src recordio.Seekable, headerEnd int64, n int) ([]ByteRange, error) {
	size := src.Size()
	if n < 1 {
		n = 1
	}
	if headerEnd >= size {
		return []ByteRange{{Start: headerEnd, End: size}}, nil
	}

	span := size - headerEnd
	if int64(n) > span {
		n = 1
		if span > 0 {
			n = int(span)
		}
		if n < 1 {
			n = 1
		}
	}

	bounds := make([]int64, 0, n+1)
	bounds = append(bounds, headerEnd)
	for i := 1; i < n; i++ {
		target := headerEnd + span*int64(i)/int64(n)
		at, err := nextRecordStart(src, target, size)
		if err != nil {
			return nil, err
		}
		bounds = append(bounds, at)
	}
	bounds = append(bounds, size)

	ranges := make([]ByteRange, 0, n)
	for i := 0; i < len(bounds)-1; i++ {
		if bounds[i] >= bounds[i+1] {
			continue
		}
		ranges = append(ranges, ByteRange{Start: bounds[i], End: bounds[i+1]})
	}
	if len(ranges) == 0 {
		ranges = append(ranges, ByteRange{Start: headerEnd, End: size})
	}
	return ranges, nil
}

// nextRecordStart scans forward from offset for the next '\n' and
// returns the offset just past it (or size, if none is found before
// the end of the source).
func nextRecordStart(src recordio.Seekable, offset, size int64) (int64, error) {
	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	for pos := offset; pos < size; pos += chunk {
		n, err := src.ReadAt(buf, pos)
		if n == 0 && err != nil {
			return size, nil
		}
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				return pos + int64(i) + 1, nil
			}
		}
	}
	return size, nil
}

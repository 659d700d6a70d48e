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

package parallel

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/nullfield-labs/xan/internal/recordio"
)

// Opener builds a row Reader over a byte-range view of the source,
// already positioned at the first full record (the caller arranges
// for r's ranges to start past a terminator, so no header skipping is
// needed inside the opener).
type Opener func(r io.Reader) recordio.Reader

// Job runs one shard's program: baseRowIndex is the absolute row
// index of the shard's first row, computed from a lightweight
// preceding count pass so order-sensitive aggregators (first, last,
// argmin, argmax, argtop) see the same row indices they would in the
// sequential path, per spec.md §4.9.
type Job func(r recordio.Reader, baseRowIndex int64) (any, error)

// Merge folds partial (from one shard, in shard order) into acc (the
// accumulation of every earlier shard), returning the updated
// accumulator. The first call receives a nil acc.
type Merge func(acc, partial any) any

// pool runs a fixed number of worker goroutines against a queue of
// indexed tasks, collecting results indexed by their original
// position; modeled on the teacher's sorting.ThreadPool work-stealing
// loop, generalized from sort tasks to arbitrary shard jobs.
type pool struct {
	threads int
}

func newPool(threads int) *pool {
	if threads < 1 {
		threads = 1
	}
	return &pool{threads: threads}
}

// runIndexed runs fn(i) for every i in [0, n) across p.threads
// goroutines and returns the results in index order. The first
// non-nil error aborts remaining dispatch (already-running tasks
// still finish) and is returned.
func (p *pool) runIndexed(n int, fn func(i int) (any, error)) ([]any, error) {
	results := make([]any, n)
	errs := make([]error, n)

	idx := make(chan int)
	go func() {
		defer close(idx)
		for i := 0; i < n; i++ {
			idx <- i
		}
	}()

	workers := p.threads
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	var failed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				if failed.Load() {
					continue
				}
				v, err := fn(i)
				results[i] = v
				errs[i] = err
				if err != nil {
					failed.Store(true)
				}
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Run shards src into ranges (computed by ComputeShards), counts each
// shard's rows to derive absolute row-index bases, then runs job over
// every shard in parallel and folds the partials together in shard
// order with merge.
func Run(src recordio.Seekable, ranges []ByteRange, open Opener, job Job, merge Merge, threads int, interrupt *Interrupt) (any, error) {
	p := newPool(threads)

	counts, err := p.runIndexed(len(ranges), func(i int) (any, error) {
		return countShard(src, ranges[i], open, interrupt)
	})
	if err != nil {
		return nil, err
	}

	bases := make([]int64, len(ranges))
	var running int64
	for i, c := range counts {
		bases[i] = running
		running += c.(int64)
	}

	partials, err := p.runIndexed(len(ranges), func(i int) (any, error) {
		sr := io.NewSectionReader(src, ranges[i].Start, ranges[i].End-ranges[i].Start)
		r := open(sr)
		return job(r, bases[i])
	})
	if err != nil {
		return nil, err
	}

	var acc any
	for _, partial := range partials {
		acc = merge(acc, partial)
	}
	return acc, nil
}

func countShard(src recordio.Seekable, rng ByteRange, open Opener, interrupt *Interrupt) (int64, error) {
	sr := io.NewSectionReader(src, rng.Start, rng.End-rng.Start)
	r := open(sr)
	var row recordio.Row
	var n int64
	for {
		if interrupt.Signaled() {
			return n, nil
		}
		ok, err := r.ReadByteRecord(&row)
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

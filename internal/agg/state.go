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

// Package agg plans and executes a bag of streaming or buffered
// summary statistics over a row stream, optionally partitioned by
// group key, deduplicating shared subexpressions and shared
// aggregator state the way the teacher's query planner deduplicates
// shared aggregate expressions (plan/pir/aggdistinct.go's trick of one
// physical accumulator serving several logical calls, generalized
// here from a SQL plan IR to moonblade's execution/output plan pair).
package agg

import (
	"fmt"

	"github.com/nullfield-labs/xan/internal/moonblade"
)

// State is the common interface every aggregator family implements.
// Families are never shared across threads; the parallel harness
// gives each shard its own copy and merges afterward.
type State interface {
	// Add folds a single value (already evaluated from the row) into
	// the accumulator.
	Add(v moonblade.Value, rowIndex int64, row moonblade.Row)
	// Merge folds another shard-local state of the same concrete type
	// into this one, preserving the deterministic tie-break rules
	// (absolute row index wins for first/last/argmin/argmax/argtop).
	Merge(other State)
	// Finalize settles approximate/sort-once structures. parallel is
	// true when this state is one of several shard partials about to
	// be merged (sums, for instance, finalize identically either way;
	// the flag exists for families whose settle step depends on it).
	Finalize(parallel bool)
	// Read returns the named readout (e.g. "mean", "p90", "top").
	Read(method string) (moonblade.Value, error)
}

// PairState is implemented by families that consume two expressions
// together (covariance, correlation) and require equal non-nullness.
type PairState interface {
	State
	AddPair(a, b moonblade.Value, rowIndex int64, row moonblade.Row)
}

// snapshot captures a row at the point an order-sensitive family
// needs to retain it (first/last/argmin/argmax/argtop), cloned so a
// later mutation of the reader's buffer can't corrupt it.
func snapshot(row moonblade.Row) moonblade.Row {
	if row == nil {
		return nil
	}
	out := make(moonblade.Row, len(row))
	for i, c := range row {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

func unknownMethod(family, method string) error {
	return fmt.Errorf("%s: unsupported readout %q", family, method)
}

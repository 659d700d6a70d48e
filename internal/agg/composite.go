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

package agg

import (
	"fmt"
	"strings"

	"github.com/nullfield-labs/xan/internal/moonblade"
)

// composite bundles every aggregator family sharing one execution
// key (one expression, or one expression pair), built once per Plan
// key and cloned per shard/group. Which fields are non-nil is fixed
// at construction time from the full set of calls sharing that key,
// so the min/argmin upgrade design note §9 describes happens once,
// up front, rather than lazily mid-stream: the planner already knows
// every call referencing a key before the first row is read.
type composite struct {
	allany   *AllAny
	count    *Count
	sum      *Sum
	extent   *NumericExtent
	argext   *ArgExtent
	tops     map[int]*ArgTop
	first    *First
	last     *Last
	lex      *LexicographicExtent
	zoned    *ZonedExtent
	freq     *Frequencies
	numbers  *Numbers
	welford  *Welford
	covar    *CovarianceWelford
	apxcard  *ApproxCardinality
	apxquant *ApproxQuantiles
	types    *Types
	values   *Values
}

// newComposite builds the composite for execution-plan key idx,
// enabling exactly the families the output-plan entries pointing at
// idx require.
func newComposite(idx int, entries []OutputEntry) *composite {
	c := &composite{}
	needArgExtent := false
	for _, e := range entries {
		if e.ExecIdx != idx {
			continue
		}
		switch e.Family {
		case famAllAny:
			if c.allany == nil {
				c.allany = NewAllAny()
			}
		case famCount:
			if c.count == nil {
				c.count = NewCount()
			}
		case famSum:
			if c.sum == nil {
				c.sum = NewSum()
			}
		case famExtent:
			if e.Method == "argmin" || e.Method == "argmax" {
				needArgExtent = true
			}
			if c.extent == nil {
				c.extent = NewNumericExtent()
			}
		case famTop:
			if c.tops == nil {
				c.tops = map[int]*ArgTop{}
			}
			if _, ok := c.tops[e.K]; !ok {
				c.tops[e.K] = NewArgTop(e.K)
			}
		case famFirst:
			if c.first == nil {
				c.first = NewFirst()
			}
		case famLast:
			if c.last == nil {
				c.last = NewLast()
			}
		case famLex:
			if c.lex == nil {
				c.lex = NewLexicographicExtent()
			}
		case famZoned:
			if c.zoned == nil {
				c.zoned = NewZonedExtent(e.Unit)
			}
		case famFreq:
			if c.freq == nil {
				c.freq = NewFrequencies()
			}
		case famNumbers:
			if c.numbers == nil {
				c.numbers = NewNumbers()
			}
		case famWelford:
			if c.welford == nil {
				c.welford = NewWelford()
			}
		case famCovar:
			if c.covar == nil {
				c.covar = NewCovarianceWelford()
			}
		case famApproxCard:
			if c.apxcard == nil {
				c.apxcard = NewApproxCardinality()
			}
		case famApproxQuant:
			if c.apxquant == nil {
				c.apxquant = NewApproxQuantiles(defaultApproxQuantileCapacity)
			}
		case famTypes:
			if c.types == nil {
				c.types = NewTypes()
			}
		case famValues:
			if c.values == nil {
				c.values = NewValues(e.Sep)
			}
		}
	}
	if needArgExtent {
		c.argext = NewArgExtent()
		if c.extent != nil {
			c.argext.UpgradeFromNumericExtent(c.extent)
			c.extent = nil
		}
	}
	return c
}

func (c *composite) Add(v moonblade.Value, idx int64, row moonblade.Row) {
	if c.allany != nil {
		c.allany.Add(v, idx, row)
	}
	if c.count != nil {
		c.count.Add(v, idx, row)
	}
	if c.sum != nil {
		c.sum.Add(v, idx, row)
	}
	if c.argext != nil {
		c.argext.Add(v, idx, row)
	} else if c.extent != nil {
		c.extent.Add(v, idx, row)
	}
	for _, t := range c.tops {
		t.Add(v, idx, row)
	}
	if c.first != nil {
		c.first.Add(v, idx, row)
	}
	if c.last != nil {
		c.last.Add(v, idx, row)
	}
	if c.lex != nil {
		c.lex.Add(v, idx, row)
	}
	if c.zoned != nil {
		c.zoned.Add(v, idx, row)
	}
	if c.freq != nil {
		c.freq.Add(v, idx, row)
	}
	if c.numbers != nil {
		c.numbers.Add(v, idx, row)
	}
	if c.welford != nil {
		c.welford.Add(v, idx, row)
	}
	if c.apxcard != nil {
		c.apxcard.Add(v, idx, row)
	}
	if c.apxquant != nil {
		c.apxquant.Add(v, idx, row)
	}
	if c.types != nil {
		c.types.Add(v, idx, row)
	}
	if c.values != nil {
		c.values.Add(v, idx, row)
	}
}

func (c *composite) AddPair(a, b moonblade.Value, idx int64, row moonblade.Row) {
	if c.covar != nil {
		c.covar.AddPair(a, b, idx, row)
	}
}

func (c *composite) Finalize(parallel bool) {
	if c.allany != nil {
		c.allany.Finalize(parallel)
	}
	if c.count != nil {
		c.count.Finalize(parallel)
	}
	if c.sum != nil {
		c.sum.Finalize(parallel)
	}
	if c.extent != nil {
		c.extent.Finalize(parallel)
	}
	if c.argext != nil {
		c.argext.Finalize(parallel)
	}
	for _, t := range c.tops {
		t.Finalize(parallel)
	}
	if c.first != nil {
		c.first.Finalize(parallel)
	}
	if c.last != nil {
		c.last.Finalize(parallel)
	}
	if c.lex != nil {
		c.lex.Finalize(parallel)
	}
	if c.zoned != nil {
		c.zoned.Finalize(parallel)
	}
	if c.freq != nil {
		c.freq.Finalize(parallel)
	}
	if c.numbers != nil {
		c.numbers.Finalize(parallel)
	}
	if c.welford != nil {
		c.welford.Finalize(parallel)
	}
	if c.covar != nil {
		c.covar.Finalize(parallel)
	}
	if c.apxcard != nil {
		c.apxcard.Finalize(parallel)
	}
	if c.apxquant != nil {
		c.apxquant.Finalize(parallel)
	}
	if c.types != nil {
		c.types.Finalize(parallel)
	}
	if c.values != nil {
		c.values.Finalize(parallel)
	}
}

// Merge folds o, a shard-local partial built from the same Plan (and
// therefore structurally identical), into c.
func (c *composite) Merge(o *composite) {
	if c.allany != nil {
		c.allany.Merge(o.allany)
	}
	if c.count != nil {
		c.count.Merge(o.count)
	}
	if c.sum != nil {
		c.sum.Merge(o.sum)
	}
	if c.argext != nil {
		c.argext.Merge(o.argext)
	} else if c.extent != nil {
		c.extent.Merge(o.extent)
	}
	for k, t := range c.tops {
		if ot, ok := o.tops[k]; ok {
			t.Merge(ot)
		}
	}
	if c.first != nil {
		c.first.Merge(o.first)
	}
	if c.last != nil {
		c.last.Merge(o.last)
	}
	if c.lex != nil {
		c.lex.Merge(o.lex)
	}
	if c.zoned != nil {
		c.zoned.Merge(o.zoned)
	}
	if c.freq != nil {
		c.freq.Merge(o.freq)
	}
	if c.numbers != nil {
		c.numbers.Merge(o.numbers)
	}
	if c.welford != nil {
		c.welford.Merge(o.welford)
	}
	if c.covar != nil {
		c.covar.Merge(o.covar)
	}
	if c.apxcard != nil {
		c.apxcard.Merge(o.apxcard)
	}
	if c.apxquant != nil {
		c.apxquant.Merge(o.apxquant)
	}
	if c.types != nil {
		c.types.Merge(o.types)
	}
	if c.values != nil {
		c.values.Merge(o.values)
	}
}

// Read returns e's final readout from this composite's state.
func (c *composite) Read(e OutputEntry) (moonblade.Value, error) {
	switch e.Family {
	case famAllAny:
		return c.allany.Read(e.Method)
	case famCount:
		return c.count.Read(e.Method)
	case famSum:
		return c.sum.Read(e.Method)
	case famExtent:
		if c.argext != nil {
			return c.argext.Read(e.Method)
		}
		return c.extent.Read(e.Method)
	case famTop:
		t := c.tops[e.K]
		if e.Method == "argtop" && e.Secondary != nil {
			return readArgTopSecondary(t, e)
		}
		return t.Read(e.Method)
	case famFirst:
		return c.first.Read(e.Method)
	case famLast:
		return c.last.Read(e.Method)
	case famLex:
		return c.lex.Read(e.Method)
	case famZoned:
		if e.Method == "elapsed" {
			return c.zoned.Elapsed(e.Unit), nil
		}
		return c.zoned.Read(e.Method)
	case famFreq:
		return c.freq.Read(e.Method)
	case famNumbers:
		if e.Method == "quantile" {
			return c.numbers.Quantile(e.Quantile), nil
		}
		return c.numbers.Read(e.Method)
	case famWelford:
		return c.welford.Read(e.Method)
	case famCovar:
		return c.covar.Read(e.Method)
	case famApproxCard:
		return c.apxcard.Read(e.Method)
	case famApproxQuant:
		return c.apxquant.Quantile(e.Quantile), nil
	case famTypes:
		return c.types.Read(e.Method)
	case famValues:
		return c.values.Read(e.Method)
	}
	return moonblade.None, fmt.Errorf("unhandled aggregator family %d", e.Family)
}

// readArgTopSecondary evaluates e.Secondary over argtop's captured
// top-k rows (in descending-value order) and joins the results with
// e.Sep, per spec.md §4.6's "argtop ... or a secondary expression
// evaluated on the captured rows, joined by a configurable separator".
func readArgTopSecondary(t *ArgTop, e OutputEntry) (moonblade.Value, error) {
	rows := t.Rows()
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		v, err := moonblade.Eval(e.Secondary, &moonblade.Ctx{Row: row})
		if err != nil {
			return moonblade.None, err
		}
		parts = append(parts, v.String())
	}
	return moonblade.Str(strings.Join(parts, e.Sep)), nil
}

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

// Package window provides spec.md §4.7's row-relative functions:
// lag/lead, running sums, rolling mean/stddev, ranks, ntile, and
// whole-stream aggregates re-broadcast per row.
package window

import (
	"fmt"

	"github.com/nullfield-labs/xan/internal/column"
	"github.com/nullfield-labs/xan/internal/moonblade"
)

// Call is one parsed, concretized window-function call.
type Call struct {
	Name    string
	Args    []moonblade.Node
	Display string
}

// ParseProgram parses a comma-separated list of window calls against
// headers. Window function names (lag, rank, ntile, ...) are not
// registered in moonblade's builtin tables, so each call's arguments
// are concretized individually rather than routing the whole call
// through moonblade.Concretize; a call naming a registered
// aggregation function instead delegates its single expression
// argument to the aggregation engine as a whole-stream broadcast
// value, per spec.md §4.7's "full aggregation calls ... reuse the
// same aggregation engine" behavior confirmed by original_source.
func ParseProgram(src string, headers *column.Headers) ([]Call, error) {
	named, err := moonblade.ParseNamedExprs(src)
	if err != nil {
		return nil, err
	}
	ctx := &moonblade.Context{Headers: headers, AllowAgg: true}
	out := make([]Call, 0, len(named))
	for _, ne := range named {
		call, ok := ne.Expr.(*moonblade.Call)
		if !ok {
			return nil, fmt.Errorf("%s: window calls must be a function call", ne.Name)
		}
		if moonblade.IsAggregatorName(call.Name) {
			cn, err := moonblade.Concretize(ne.Expr, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, Call{Name: cn.(*moonblade.Call).Name, Args: cn.(*moonblade.Call).Args, Display: ne.Name})
			continue
		}
		args := make([]moonblade.Node, len(call.Args))
		for i, a := range call.Args {
			cn, err := moonblade.Concretize(a, ctx)
			if err != nil {
				return nil, err
			}
			args[i] = cn
		}
		out = append(out, Call{Name: call.Name, Args: args, Display: ne.Name})
	}
	return out, nil
}

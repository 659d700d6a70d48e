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

package moonblade

import (
	"fmt"
	"strings"
	"time"

	"github.com/nullfield-labs/xan/date"
	"github.com/nullfield-labs/xan/fastdate"
)

// toTimestamp admits either a DateTime value or a string recognized by
// date.Parse's RFC3339-ish fast path, and converts either to a
// fastdate.Timestamp (microseconds since the Unix epoch) for use by
// the truncate/add/diff/part family below.
func toTimestamp(v Value) (fastdate.Timestamp, error) {
	switch v.Kind() {
	case KindDateTime:
		return fastdate.Timestamp(v.AsTime().UnixMicro()), nil
	case KindString, KindBytes:
		t, ok := date.Parse([]byte(v.AsString()))
		if !ok {
			return 0, fmt.Errorf("not a recognized timestamp: %q", v.AsString())
		}
		return fastdate.Timestamp(t.Time().UnixMicro()), nil
	}
	return 0, fmt.Errorf("expected a datetime or string, got %s", v.Kind())
}

func fromTimestamp(ts fastdate.Timestamp) Value {
	return DateTime(time.UnixMicro(int64(ts)).UTC())
}

func init() {
	pureFunctions["parse_date"] = PureFunc{Arity: exactly(1), Fn: func(a []Value) (Value, error) {
		t, ok := date.Parse([]byte(a[0].AsString()))
		if !ok {
			return None, fmt.Errorf("parse_date: not a recognized timestamp: %q", a[0].AsString())
		}
		return DateTime(t.Time()), nil
	}}

	pureFunctions["now"] = PureFunc{Arity: exactly(0), Fn: func(a []Value) (Value, error) {
		return DateTime(time.Now().UTC()), nil
	}}

	pureFunctions["date_trunc"] = PureFunc{Arity: exactly(2), Fn: func(a []Value) (Value, error) {
		ts, err := toTimestamp(a[0])
		if err != nil {
			return None, fmt.Errorf("date_trunc: %w", err)
		}
		switch strings.ToLower(a[1].AsString()) {
		case "second":
			ts = ts.TruncSecond()
		case "minute":
			ts = ts.TruncMinute()
		case "hour":
			ts = ts.TruncHour()
		case "day":
			ts = ts.TruncDay()
		case "month":
			ts = ts.TruncMonth()
		case "quarter":
			ts = ts.TruncQuarter()
		case "year":
			ts = ts.TruncYear()
		default:
			return None, fmt.Errorf("date_trunc: unknown unit %q", a[1].AsString())
		}
		return fromTimestamp(ts), nil
	}}

	pureFunctions["date_add"] = PureFunc{Arity: exactly(3), Fn: func(a []Value) (Value, error) {
		ts, err := toTimestamp(a[0])
		if err != nil {
			return None, fmt.Errorf("date_add: %w", err)
		}
		n := a[2].AsInt()
		var out fastdate.Timestamp
		switch strings.ToLower(a[1].AsString()) {
		case "microsecond":
			out, _ = ts.AddMicrosecond(n)
		case "millisecond":
			out, _ = ts.AddMillisecond(n)
		case "second":
			out, _ = ts.AddSecond(n)
		case "minute":
			out, _ = ts.AddMinute(n)
		case "hour":
			out, _ = ts.AddHour(n)
		case "day":
			out, _ = ts.AddDay(n)
		case "month":
			out, _ = ts.AddMonth(n)
		case "quarter":
			out, _ = ts.AddQuarter(n)
		case "year":
			out, _ = ts.AddYear(n)
		default:
			return None, fmt.Errorf("date_add: unknown unit %q", a[1].AsString())
		}
		return fromTimestamp(out), nil
	}}

	pureFunctions["date_diff"] = PureFunc{Arity: exactly(3), Fn: func(a []Value) (Value, error) {
		ta, err := toTimestamp(a[0])
		if err != nil {
			return None, fmt.Errorf("date_diff: %w", err)
		}
		tb, err := toTimestamp(a[1])
		if err != nil {
			return None, fmt.Errorf("date_diff: %w", err)
		}
		switch strings.ToLower(a[2].AsString()) {
		case "month":
			return Int(ta.DateDiffMonth(tb)), nil
		case "microsecond":
			d, _ := ta.DateDiffMicrosecond(tb)
			return Int(int64(d)), nil
		case "second":
			d, _ := ta.DateDiffMicrosecond(tb)
			return Int(int64(d) / 1_000_000), nil
		case "day":
			d, _ := ta.DateDiffMicrosecond(tb)
			return Int(int64(d) / (24 * 60 * 60 * 1_000_000)), nil
		default:
			return None, fmt.Errorf("date_diff: unknown unit %q", a[2].AsString())
		}
	}}

	pureFunctions["date_part"] = PureFunc{Arity: exactly(2), Fn: func(a []Value) (Value, error) {
		ts, err := toTimestamp(a[0])
		if err != nil {
			return None, fmt.Errorf("date_part: %w", err)
		}
		switch strings.ToLower(a[1].AsString()) {
		case "year":
			return Int(int64(ts.ExtractYear())), nil
		case "quarter":
			return Int(int64(ts.ExtractQuarter())), nil
		case "month":
			return Int(int64(ts.ExtractMonth())), nil
		case "day":
			return Int(int64(ts.ExtractDay())), nil
		case "hour":
			return Int(int64(ts.ExtractHour())), nil
		case "minute":
			return Int(int64(ts.ExtractMinute())), nil
		case "second":
			return Int(int64(ts.ExtractSecond())), nil
		case "dow":
			return Int(int64(ts.ExtractDOW())), nil
		case "doy":
			return Int(int64(ts.ExtractDOY())), nil
		default:
			return None, fmt.Errorf("date_part: unknown unit %q", a[1].AsString())
		}
	}}
}

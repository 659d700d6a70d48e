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

// Package moonblade implements the small, dynamically typed
// expression language used as the wrangling backbone of every
// analytic command: a parser, a concretizer that binds an AST to a
// column schema, and an evaluator over dynamically typed values.
package moonblade

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// Kind tags the variant a Value currently holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindRegex
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRegex:
		return "regex"
	case KindDateTime:
		return "datetime"
	}
	return "?"
}

// Value is the tagged union representing the runtime value of an
// expression. List and Map variants hold a Go slice/map directly:
// since a slice or map header is itself a small, copyable reference to
// shared backing storage, cloning a Value that wraps one is already
// O(1) and aliases the same data, the same economics the spec's
// reference-counted-handle design note is after, without requiring
// manual refcounting on top of the garbage collector.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
	re   *regexp.Regexp
	dt   *time.Time
}

// None is the null/absent value.
var None = Value{kind: KindNone}

func Bool(b bool) Value    { return Value{kind: KindBool, b: b} }
func Int(i int64) Value    { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Str(s string) Value   { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value { return Value{kind: KindBytes, s: string(b)} }
func List(v []Value) Value { return Value{kind: KindList, list: v} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }
func RegexValue(re *regexp.Regexp) Value { return Value{kind: KindRegex, re: re} }
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, dt: &t} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNone() bool { return v.kind == KindNone }

func (v Value) AsBool() bool { return v.b }
func (v Value) AsInt() int64 { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsString() string { return v.s }
func (v Value) AsBytes() []byte { return []byte(v.s) }
func (v Value) AsList() []Value { return v.list }
func (v Value) AsMap() map[string]Value { return v.m }
func (v Value) AsRegex() *regexp.Regexp { return v.re }
func (v Value) AsTime() time.Time {
	if v.dt == nil {
		return time.Time{}
	}
	return *v.dt
}

// Truthy implements the language's truthiness rules: None and the
// zero value of every scalar kind are false; strings are truthy
// unless empty; lists/maps are truthy unless empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNone:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString, KindBytes:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	case KindMap:
		return len(v.m) > 0
	default:
		return true
	}
}

// Number is a tagged union of Integer and Float with total ordering;
// NaN is never permitted to enter the stream.
type Number struct {
	isFloat bool
	i       int64
	f       float64
}

func IntNumber(i int64) Number     { return Number{i: i} }
func FloatNumber(f float64) Number { return Number{isFloat: true, f: f} }

func (n Number) IsFloat() bool  { return n.isFloat }
func (n Number) Int() int64     { return n.i }
func (n Number) Float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

// Cmp returns -1, 0, or 1 as a compares less than, equal to, or
// greater than b, promoting to float when either side is a float.
func (a Number) Cmp(b Number) int {
	if !a.isFloat && !b.isFloat {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	}
	af, bf := a.Float(), b.Float()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func (n Number) ToValue() Value {
	if n.isFloat {
		return Float(n.f)
	}
	return Int(n.i)
}

// NumberOf extracts a Number from a scalar Value, or reports ok=false
// for anything else. Strings and bytes count when they parse as an
// integer or as a non-NaN float.
func NumberOf(v Value) (Number, bool) {
	switch v.kind {
	case KindString, KindBytes:
		if i, err := strconv.ParseInt(v.s, 10, 64); err == nil {
			return IntNumber(i), true
		}
		if f, err := strconv.ParseFloat(v.s, 64); err == nil && !math.IsNaN(f) {
			return FloatNumber(f), true
		}
	case KindInt:
		return IntNumber(v.i), true
	case KindFloat:
		return FloatNumber(v.f), true
	case KindBool:
		if v.b {
			return IntNumber(1), true
		}
		return IntNumber(0), true
	}
	return Number{}, false
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString, KindBytes:
		return v.s
	case KindDateTime:
		return v.AsTime().Format(time.RFC3339Nano)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	case KindRegex:
		if v.re != nil {
			return v.re.String()
		}
	}
	return ""
}

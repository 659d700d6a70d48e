// Copyright (c) 2009 The Go Authors. All rights reserved.
// Copyright (c) 2022 Sneller, Inc.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
//    * Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//    * Redistributions in binary form must reproduce the above
// copyright notice, this list of conditions and the following disclaimer
// in the documentation and/or other materials provided with the
// distribution.
//    * Neither the name of Google Inc. nor the names of its
// contributors may be used to endorse or promote products derived from
// this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package date

import "errors"

func isleap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func norm(hi, lo, base int) (nhi, nlo int) {
	if lo < 0 {
		n := (-lo-1)/base + 1
		hi -= n
		lo += n * base
	}
	if lo >= base {
		n := lo / base
		hi += n
		lo -= n * base
	}
	return hi, lo
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.Year() >= 10000 {
		return nil, errors.New("date.MarshalJSON: year outside of range [0,9999]")
	}
	b := make([]byte, 0, 37)
	b = append(b, '"')
	b = t.AppendRFC3339Nano(b)
	b = append(b, '"')
	return b, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) == 0 || b[0] != '"' {
		return errors.New("date.UnmarshalJSON: expected a string")
	}
	var ok bool
	*t, ok = Parse(b[1 : len(b)-1])
	if !ok {
		return errors.New("date.UnmarshalJSON: failed to parse")
	}
	return nil
}

func digits(b []byte, n int) (v int, rest []byte, ok bool) {
	if len(b) < n {
		return 0, b, false
	}
	for i := 0; i < n; i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, b, false
		}
		v = v*10 + int(c-'0')
	}
	return v, b[n:], true
}

// parse recognizes an RFC3339-ish timestamp, optionally trimmed of
// surrounding whitespace: YYYY-MM-DD[ T]HH:MM:SS[.fraction][Z|±HH:MM].
// A bare YYYY-MM-DD date is also accepted, defaulting the clock to
// midnight. Any zone offset is folded into hour/min so the returned
// components are always UTC; norm() takes care of the carry.
func parse(data []byte) (year, month, day, hour, min, sec, ns int, ok bool) {
	for len(data) > 0 && (data[0] == ' ' || data[0] == '\t') {
		data = data[1:]
	}
	for len(data) > 0 && (data[len(data)-1] == ' ' || data[len(data)-1] == '\t') {
		data = data[:len(data)-1]
	}

	year, data, ok = digits(data, 4)
	if !ok || len(data) == 0 || data[0] != '-' {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	data = data[1:]
	month, data, ok = digits(data, 2)
	if !ok || len(data) == 0 || data[0] != '-' {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	data = data[1:]
	day, data, ok = digits(data, 2)
	if !ok {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	if len(data) == 0 {
		return year, month, day, 0, 0, 0, 0, true
	}
	if data[0] != 'T' && data[0] != 't' && data[0] != ' ' {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	data = data[1:]

	hour, data, ok = digits(data, 2)
	if !ok || len(data) == 0 || data[0] != ':' {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	data = data[1:]
	min, data, ok = digits(data, 2)
	if !ok || len(data) == 0 || data[0] != ':' {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	data = data[1:]
	sec, data, ok = digits(data, 2)
	if !ok {
		return 0, 0, 0, 0, 0, 0, 0, false
	}

	if len(data) > 0 && data[0] == '.' {
		data = data[1:]
		fracStart := data
		n := 0
		for len(data) > 0 && data[0] >= '0' && data[0] <= '9' {
			data = data[1:]
			n++
		}
		if n == 0 {
			return 0, 0, 0, 0, 0, 0, 0, false
		}
		for i := 0; i < n; i++ {
			ns = ns*10 + int(fracStart[i]-'0')
		}
		for i := n; i < 9; i++ {
			ns *= 10
		}
		for i := n; i > 9; i-- {
			ns /= 10
		}
	}

	if len(data) == 0 {
		return year, month, day, hour, min, sec, ns, true
	}
	switch data[0] {
	case 'Z', 'z':
		data = data[1:]
	case '+', '-':
		sign := 1
		if data[0] == '-' {
			sign = -1
		}
		data = data[1:]
		var oh, om int
		oh, data, ok = digits(data, 2)
		if !ok {
			return 0, 0, 0, 0, 0, 0, 0, false
		}
		if len(data) > 0 && data[0] == ':' {
			data = data[1:]
		}
		om, data, ok = digits(data, 2)
		if !ok {
			return 0, 0, 0, 0, 0, 0, 0, false
		}
		hour -= sign * oh
		min -= sign * om
	default:
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	if len(data) != 0 {
		return 0, 0, 0, 0, 0, 0, 0, false
	}
	return year, month, day, hour, min, sec, ns, true
}

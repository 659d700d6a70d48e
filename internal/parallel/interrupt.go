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

import "sync/atomic"

// Interrupt is a cooperative cancellation flag shared by every shard
// worker, per spec.md §5: there is no internal timeout, only a flag
// set by the controlling process on SIGINT that workers check between
// records.
type Interrupt struct {
	flag int32
}

// Signal marks the interrupt as tripped.
func (in *Interrupt) Signal() {
	if in == nil {
		return
	}
	atomic.StoreInt32(&in.flag, 1)
}

// Signaled reports whether Signal has been called.
func (in *Interrupt) Signaled() bool {
	if in == nil {
		return false
	}
	return atomic.LoadInt32(&in.flag) != 0
}

// Copyright 2019 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package refs provides an embeddable atomic reference count for Kernel
// Objects (§3). Shared VM Objects embed an AtomicRefCount; the handle
// table and the address space's pages keep their own plain counters.
package refs

import "sync/atomic"

// AtomicRefCount is an embeddable reference count. The zero value holds no
// references; InitRefs records the one held by whoever constructed the
// object.
type AtomicRefCount struct {
	count int64
}

// InitRefs sets the count to one. Call this once, right after
// construction, before the object is published to another goroutine.
func (r *AtomicRefCount) InitRefs() {
	atomic.StoreInt64(&r.count, 1)
}

// IncRef adds one reference. The caller must already hold a reference (or
// be under a lock that prevents the count from reaching zero concurrently).
func (r *AtomicRefCount) IncRef() {
	if atomic.AddInt64(&r.count, 1) <= 1 {
		panic("refs: IncRef called on a destroyed object")
	}
}

// TryIncRef adds one reference only if the object is not already at zero,
// returning false if the object lost its race with a concurrent DecRef
// that dropped it to zero.
func (r *AtomicRefCount) TryIncRef() bool {
	for {
		v := atomic.LoadInt64(&r.count)
		if v <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&r.count, v, v+1) {
			return true
		}
	}
}

// DecRef drops one reference, invoking destroy exactly once if the count
// reaches zero. destroy may be nil.
func (r *AtomicRefCount) DecRef(destroy func()) {
	v := atomic.AddInt64(&r.count, -1)
	switch {
	case v < 0:
		panic("refs: DecRef below zero")
	case v == 0:
		if destroy != nil {
			destroy()
		}
	}
}

// ReadRefs returns the current count, for diagnostics and tests only.
func (r *AtomicRefCount) ReadRefs() int64 {
	return atomic.LoadInt64(&r.count)
}

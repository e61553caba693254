// Copyright 2018 The gVisor Authors.
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

package mm

import "sync"

// Flags describe a Mapped Region's protection and sharing mode (§3).
type Flags struct {
	Read, Write, Exec bool
	Fixed             bool
	Shared            bool // false means private (COW on fork).
}

// Region is a contiguous range of virtual addresses backed by exactly one
// VM Object (§3, glossary). Base and Length are always page-aligned.
type Region struct {
	Base, Length int64
	Flags        Flags
	Object       Object
	ObjOffset    int64

	mu    sync.Mutex
	pages map[int64]*page // private-region page table, keyed by region-relative offset.
}

func newRegion(base, length int64, flags Flags, obj Object, objOffset int64) *Region {
	r := &Region{Base: base, Length: length, Flags: flags, Object: obj, ObjOffset: objOffset}
	if !flags.Shared {
		r.pages = make(map[int64]*page)
	}
	if sh, ok := obj.(*Shared); ok {
		sh.AddMapping()
	}
	return r
}

// Contains reports whether addr falls within the region.
func (r *Region) Contains(addr int64) bool {
	return addr >= r.Base && addr < r.Base+r.Length
}

// End returns the first address past the region.
func (r *Region) End() int64 { return r.Base + r.Length }

// clonePrivate returns a new Region for a forked child, sharing the same
// backing pages (refcount bumped) with the parent's private region. Only
// valid for non-shared regions.
func (r *Region) clonePrivate() *Region {
	child := &Region{
		Base: r.Base, Length: r.Length, Flags: r.Flags,
		Object: r.Object, ObjOffset: r.ObjOffset,
		pages: make(map[int64]*page),
	}
	r.mu.Lock()
	for off, p := range r.pages {
		p.incref()
		child.pages[off] = p
	}
	r.mu.Unlock()
	return child
}

// cloneShared returns a new Region referring to the same Shared VM Object,
// for a forked child mapping a shared segment.
func (r *Region) cloneShared() *Region {
	if sh, ok := r.Object.(*Shared); ok {
		sh.AddMapping()
	}
	return &Region{Base: r.Base, Length: r.Length, Flags: r.Flags, Object: r.Object, ObjOffset: r.ObjOffset}
}

// rebase shifts a region's Base and ObjOffset together, rekeying a
// private region's page table, so that every address still resolves to
// the same pages.
// Used when munmap splits a region and the surviving right-hand piece
// gets a new Base.
func (r *Region) rebase(newBase int64) {
	shift := newBase - r.Base
	r.ObjOffset += shift
	if r.Flags.Shared {
		r.Base = newBase
		return
	}
	r.mu.Lock()
	rekeyed := make(map[int64]*page, len(r.pages))
	for off, p := range r.pages {
		rekeyed[off-shift] = p
	}
	r.pages = rekeyed
	r.mu.Unlock()
	r.Base = newBase
}

func alignDown(v int64) int64 { return v &^ (PageSize - 1) }
func alignUp(v int64) int64   { return (v + PageSize - 1) &^ (PageSize - 1) }
func isAligned(v int64) bool  { return v&(PageSize-1) == 0 }

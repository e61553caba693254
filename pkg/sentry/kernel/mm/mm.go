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

// Package mm implements the per-process Address Space Manager (§4.1): a
// set of non-overlapping Mapped Regions over a 64-bit virtual range, each
// backed by a VM Object, with demand-paged fault servicing and
// copy-on-write fork.
package mm

import (
	"sort"
	"sync"

	"nyanos.dev/kernel/pkg/context"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/abi/posix"
)

// Default range for hint-less mappings; arbitrary but representative of a
// canonical x86-64 user mmap area.
const (
	mmapBase = 0x0000_7000_0000_0000
	mmapTop  = 0x0000_7fff_ffff_f000
)

// FaultKind distinguishes a read fault from a write fault (§4.1).
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
)

// AddressSpace is the per-process virtual memory manager (§3, §4.1).
type AddressSpace struct {
	mu      sync.Mutex
	regions []*Region // kept sorted by Base; invariant: non-overlapping.
	nextHint int64
}

// New returns an empty AddressSpace.
func New() *AddressSpace {
	return &AddressSpace{nextHint: mmapBase}
}

// findFreeLocked finds the first free range of length bytes at or after
// hint, scanning ascending (§4.1: "first-fit ascending"). Caller holds mu.
func (as *AddressSpace) findFreeLocked(hint, length int64) (int64, error) {
	if hint < mmapBase {
		hint = mmapBase
	}
	candidate := alignDown(hint)
	for {
		if candidate+length > mmapTop {
			return 0, kernerr.New("mmap", posix.ENOMEM)
		}
		overlap := false
		for _, r := range as.regions {
			if candidate < r.End() && candidate+length > r.Base {
				candidate = r.End()
				overlap = true
				break
			}
		}
		if !overlap {
			return candidate, nil
		}
	}
}

func (as *AddressSpace) rangeFreeLocked(base, length int64) bool {
	for _, r := range as.regions {
		if base < r.End() && base+length > r.Base {
			return false
		}
	}
	return true
}

func (as *AddressSpace) insertLocked(r *Region) {
	idx := sort.Search(len(as.regions), func(i int) bool { return as.regions[i].Base >= r.Base })
	as.regions = append(as.regions, nil)
	copy(as.regions[idx+1:], as.regions[idx:])
	as.regions[idx] = r
}

// mapLocked places a region backed by obj at hint/fixed, returning its
// base address.
func (as *AddressSpace) mapLocked(size, hint int64, fixed bool, flags Flags, obj Object, objOffset int64) (int64, error) {
	if !isAligned(size) || size <= 0 {
		return 0, kernerr.New("mmap", posix.EINVAL)
	}
	var base int64
	if fixed {
		base = alignDown(hint)
		if !as.rangeFreeLocked(base, size) {
			return 0, kernerr.New("mmap", posix.ENOMEM)
		}
	} else {
		b, err := as.findFreeLocked(hint, size)
		if err != nil {
			return 0, err
		}
		base = b
	}
	r := newRegion(base, size, flags, obj, objOffset)
	as.insertLocked(r)
	return base, nil
}

// MapAnonymous implements "map anonymous" (§4.1).
func (as *AddressSpace) MapAnonymous(size, hint int64, fixed bool, flags Flags) (int64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.mapLocked(size, hint, fixed, flags, NewAnonymous(), 0)
}

// MapObject implements "map VM object" (§4.1).
func (as *AddressSpace) MapObject(size, hint int64, fixed bool, flags Flags, obj Object, objOffset int64) (int64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.mapLocked(size, hint, fixed, flags, obj, objOffset)
}

// Unmap implements "unmap" (§4.1): both base and length must be
// page-aligned; partial overlap is allowed and splits the spanned
// regions at the boundaries.
func (as *AddressSpace) Unmap(base, length int64) error {
	if !isAligned(base) || !isAligned(length) || length <= 0 {
		return kernerr.New("munmap", posix.EINVAL)
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	end := base + length
	var kept []*Region
	for _, r := range as.regions {
		switch {
		case r.End() <= base || r.Base >= end:
			// Entirely outside the unmapped range: keep as-is.
			kept = append(kept, r)
		case r.Base >= base && r.End() <= end:
			// Entirely inside: drop, releasing any Shared mapping count.
			releaseRegion(r)
		default:
			// Partial overlap: split at the boundaries, keeping the parts
			// outside [base, end).
			if r.Base < base {
				var left *Region
				if r.Flags.Shared {
					left = r.cloneShared()
				} else {
					left = r.clonePrivate()
				}
				left.Length = base - r.Base
				kept = append(kept, left)
			}
			if r.End() > end {
				var right *Region
				if r.Flags.Shared {
					right = r.cloneShared()
				} else {
					right = r.clonePrivate()
				}
				right.rebase(end)
				right.Length = r.End() - end
				kept = append(kept, right)
			}
			releaseRegion(r)
		}
	}
	as.regions = kept
	return nil
}

func releaseRegion(r *Region) {
	if sh, ok := r.Object.(*Shared); ok {
		sh.RemoveMapping()
	}
}

// AddressToRegion implements "address to region" (§4.1): the invariant
// tested in §8 is that a non-null result always contains the address.
func (as *AddressSpace) AddressToRegion(addr int64) *Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, r := range as.regions {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

// UnmapAll implements "unmap all", used on exec.
func (as *AddressSpace) UnmapAll() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, r := range as.regions {
		releaseRegion(r)
	}
	as.regions = nil
	as.nextHint = mmapBase
}

// Clone implements copy-on-write fork (§4.1, §4.7): every private
// region's pages are shared (refcount bumped) between parent and child;
// shared regions keep referring to the same Shared VM Object.
func (as *AddressSpace) Clone() *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()
	child := &AddressSpace{nextHint: as.nextHint}
	for _, r := range as.regions {
		var cr *Region
		if r.Flags.Shared {
			cr = r.cloneShared()
		} else {
			cr = r.clonePrivate()
		}
		child.regions = append(child.regions, cr)
	}
	return child
}

// UsedPhysicalMemory implements "used physical memory": the sum over
// resident pages owned privately (not shared) by this address space.
func (as *AddressSpace) UsedPhysicalMemory() int64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	var total int64
	for _, r := range as.regions {
		if r.Flags.Shared {
			continue
		}
		r.mu.Lock()
		total += int64(len(r.pages)) * PageSize
		r.mu.Unlock()
	}
	return total
}

// Fault implements "fault" (§4.1): look up the containing region; if
// none, report a segmentation violation. Otherwise service the page,
// copying on a write to a shared backing page.
func (as *AddressSpace) Fault(ctx context.Context, addr int64, kind FaultKind) error {
	r := as.AddressToRegion(addr)
	if r == nil {
		return kernerr.New("fault", posix.EFAULT)
	}
	regionOff := alignDown(addr - r.Base)
	objOff := r.ObjOffset + regionOff

	if r.Flags.Shared {
		_, err := r.Object.faultHit(ctx, objOff)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[regionOff]
	if !ok {
		np, err := r.Object.faultHit(ctx, objOff)
		if err != nil {
			return err
		}
		r.pages[regionOff] = np
		p = np
	}
	if kind == FaultWrite && p.shared() {
		np := p.clone()
		p.decref()
		r.pages[regionOff] = np
	}
	return nil
}

// ReadAt/WriteAt copy between usermode addresses and kernel buffers,
// servicing faults as needed. These back the syscall dispatcher's
// pointer-validated copies (§4.8).
func (as *AddressSpace) ReadAt(ctx context.Context, addr int64, buf []byte) error {
	return as.copyPages(ctx, addr, buf, FaultRead, false)
}

func (as *AddressSpace) WriteAt(ctx context.Context, addr int64, buf []byte) error {
	return as.copyPages(ctx, addr, buf, FaultWrite, true)
}

func (as *AddressSpace) copyPages(ctx context.Context, addr int64, buf []byte, kind FaultKind, write bool) error {
	remaining := buf
	cur := addr
	for len(remaining) > 0 {
		if err := as.Fault(ctx, cur, kind); err != nil {
			return err
		}
		r := as.AddressToRegion(cur)
		if r == nil {
			return kernerr.New("copy", posix.EFAULT)
		}
		regionOff := alignDown(cur - r.Base)
		pageBase := r.Base + regionOff
		within := int(cur - pageBase)
		n := PageSize - within
		if n > len(remaining) {
			n = len(remaining)
		}

		var p *page
		if r.Flags.Shared {
			objOff := r.ObjOffset + regionOff
			pp, err := r.Object.faultHit(ctx, objOff)
			if err != nil {
				return err
			}
			p = pp
		} else {
			r.mu.Lock()
			p = r.pages[regionOff]
			r.mu.Unlock()
		}

		p.mu.Lock()
		if write {
			copy(p.data[within:within+n], remaining[:n])
		} else {
			copy(remaining[:n], p.data[within:within+n])
		}
		p.mu.Unlock()

		remaining = remaining[n:]
		cur += int64(n)
	}
	return nil
}

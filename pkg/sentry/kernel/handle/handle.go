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

// Package handle implements the per-process typed-handle object table
// (§3, §4.3): a densely allocated id space mapping to reference-counted
// Kernel Objects, plus the single generic signal source every such object
// exposes to the Wait/Watcher.
package handle

import (
	"sync"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/waiter"
)

// Type tags the concrete Kernel Object variant a Handle refers to (§3).
type Type int

const (
	TypeService Type = iota
	TypeInterface
	TypeEndpoint
	TypeSharedVMObject
	TypeProcess
	TypeSocket
)

// Object is implemented by every Kernel Object variant (§3): a type tag,
// a destroy transition, and a Waitable signal source for the
// Wait/Watcher.
type Object interface {
	waiter.Waitable

	Type() Type
	// Destroy transitions the object to its terminal state. Idempotent:
	// calling it more than once is a no-op after the first call.
	Destroy()
}

// entry pairs an Object with the refcount cell shared by every handle id
// that refers to it, so Destroy releases exactly one reference and only
// finalizes the object when the last one drops (§3).
type entry struct {
	obj Object
	rc  *int32
}

// Table is one process's handle table: a dense, recycled id space over
// reference-counted Kernel Objects.
type Table struct {
	mu      sync.Mutex
	entries map[int32]entry
	next    int32 // monotonically increasing scan cursor for free ids.
	free    []int32
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[int32]entry), next: 1}
}

// Register takes ownership of the object's first reference and returns a
// densely allocated handle id. The referent starts with a refcount of
// one; Dup adds further references sharing this same cell.
func (t *Table) Register(obj Object) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rc := new(int32)
	*rc = 1
	return t.insertLocked(obj, rc)
}

// Dup registers a second handle id for the object already referenced by
// id, incrementing its shared refcount rather than handing out an
// independent copy (§3: dup_handle shares one reference).
func (t *Table) Dup(id int32) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return 0, kernerr.New("dup_handle", posix.EINVAL)
	}
	*e.rc++
	return t.insertLocked(e.obj, e.rc), nil
}

// insertLocked allocates a fresh id for (obj, rc). t.mu must be held.
func (t *Table) insertLocked(obj Object, rc *int32) int32 {
	var id int32
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		id = t.next
		t.next++
	}
	t.entries[id] = entry{obj: obj, rc: rc}
	return id
}

// Find returns the Object registered under id, or EINVAL if no such
// handle exists (§4.3: "find-handle ... fails with invalid-handle").
func (t *Table) Find(id int32) (Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, kernerr.New("find_handle", posix.EINVAL)
	}
	return e.obj, nil
}

// Destroy releases handle id: it drops exactly one reference to the
// referent object, recycling the id for future Register calls (§3:
// "destroying a handle releases exactly one reference to the referent").
// The object is only finalized once every id sharing its refcount (every
// handle produced by Register or Dup) has been destroyed. Destroying an
// already-destroyed (i.e. absent) handle returns EINVAL (§8: idempotence
// test).
func (t *Table) Destroy(id int32) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return kernerr.New("destroy_handle", posix.EINVAL)
	}
	delete(t.entries, id)
	t.free = append(t.free, id)
	*e.rc--
	last := *e.rc == 0
	t.mu.Unlock()

	if last {
		e.obj.Destroy()
	}
	return nil
}

// DestroyAll tears down every remaining handle, used when a process exits
// (§4.2: "ending a process unwinds the handle table"). Individual
// failures (there are none today, since Destroy on a present id cannot
// fail) would be aggregated rather than aborting the sweep.
func (t *Table) DestroyAll() error {
	t.mu.Lock()
	ids := make([]int32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := t.Destroy(id); err != nil {
			errs = append(errs, err)
		}
	}
	return kernerr.Combine(errs...)
}

// Len reports the number of live handles, for diagnostics and tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

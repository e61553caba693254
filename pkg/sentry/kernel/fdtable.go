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

package kernel

import (
	"sync"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
)

// FSNode is the external filesystem-node contract (§3) a file descriptor
// refers to; the VFS and concrete drivers implementing it live outside
// this module (§1).
type FSNode interface {
	Type() posix.NodeType
	CanRead() bool
	CanWrite() bool
}

// FileDescriptor is (node reference, position, mode bits) (§3).
type FileDescriptor struct {
	Node  FSNode
	Pos   int64
	Flags uint32 // O_* bits, including O_NONBLOCK, O_APPEND, O_CLOEXEC.
}

// FDTable is a process's ordered sparse sequence of file descriptors
// (§3), indexed by small non-negative integers.
type FDTable struct {
	mu      sync.Mutex
	entries map[int32]*FileDescriptor
}

// NewFDTable returns an empty FDTable.
func NewFDTable() *FDTable {
	return &FDTable{entries: make(map[int32]*FileDescriptor)}
}

// Allocate implements "allocate-fd": returns the lowest unused index
// (§4.7).
func (t *FDTable) Allocate(fd *FileDescriptor) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var i int32
	for {
		if _, ok := t.entries[i]; !ok {
			break
		}
		i++
	}
	t.entries[i] = fd
	return i
}

// Get returns the FileDescriptor at fd, or EBADF if absent.
func (t *FDTable) Get(fd int32) (*FileDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.entries[fd]
	if !ok {
		return nil, kernerr.New("fd_get", posix.EBADF)
	}
	return f, nil
}

// Set installs fd directly at the given index, overwriting (and
// implicitly closing) any previous occupant — the explicit-target half
// of "duplicate-fd" (§4.7).
func (t *FDTable) Set(fd int32, desc *FileDescriptor) {
	t.mu.Lock()
	t.entries[fd] = desc
	t.mu.Unlock()
}

// Close removes fd. The first call returns nil; a second call on the same
// fd returns EBADF, matching the idempotence property in §8.
func (t *FDTable) Close(fd int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[fd]; !ok {
		return kernerr.New("close", posix.EBADF)
	}
	delete(t.entries, fd)
	return nil
}

// Duplicate implements "duplicate-fd" (§4.7): with target < 0, allocates
// a new fd for the lowest free index; otherwise closes any previous
// occupant of target and installs the duplicate there.
func (t *FDTable) Duplicate(fd int32, target int32) (int32, error) {
	t.mu.Lock()
	src, ok := t.entries[fd]
	t.mu.Unlock()
	if !ok {
		return 0, kernerr.New("dup", posix.EBADF)
	}
	dup := &FileDescriptor{Node: src.Node, Pos: src.Pos, Flags: src.Flags &^ posix.OCLOEXEC}

	if target < 0 {
		return t.Allocate(dup), nil
	}
	t.Set(target, dup)
	return target, nil
}

// StatusFlags returns the O_APPEND/O_NONBLOCK bits of fd (§4.7).
func (t *FDTable) StatusFlags(fd int32) (uint32, error) {
	f, err := t.Get(fd)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return f.Flags & (posix.OAPPEND | posix.ONONBLOCK), nil
}

// SetStatusFlags updates the O_APPEND/O_NONBLOCK bits of fd, leaving
// every other flag untouched (§4.7).
func (t *FDTable) SetStatusFlags(fd int32, flags uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.entries[fd]
	if !ok {
		return kernerr.New("fcntl", posix.EBADF)
	}
	const mutable = posix.OAPPEND | posix.ONONBLOCK
	f.Flags = (f.Flags &^ mutable) | (flags & mutable)
	return nil
}

// Fork duplicates the table for a child process: fds share their
// backing node but get independent Pos/Flags copies (§4.7).
func (t *FDTable) Fork() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := NewFDTable()
	for fd, desc := range t.entries {
		child.entries[fd] = &FileDescriptor{Node: desc.Node, Pos: desc.Pos, Flags: desc.Flags}
	}
	return child
}

// CloseOnExec closes every fd with O_CLOEXEC set (§3, §4.7).
func (t *FDTable) CloseOnExec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, desc := range t.entries {
		if desc.Flags&posix.OCLOEXEC != 0 {
			delete(t.entries, fd)
		}
	}
}

// CloseAll empties the table, for process exit.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	t.entries = make(map[int32]*FileDescriptor)
	t.mu.Unlock()
}

// Copyright 2020 The gVisor Authors.
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

// Package host adapts real host file descriptors (regular files,
// pipes, and the standard streams the boot process inherits) to the
// kernel's FSNode contract (§3), the way a filesystem driver would sit
// behind the VFS boundary this module scopes out of its own surface
// (§1).
package host

import (
	"sync"

	"golang.org/x/sys/unix"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
)

// FD is a filesystem node backed by one host file descriptor (§3's
// FSNode, concrete form). Its Pos/Flags live in the owning process's
// FDTable entry; FD itself only performs the underlying I/O.
type FD struct {
	mu     sync.Mutex
	hostFD int
	typ    posix.NodeType
	closed bool
}

// Import wraps an already-open host file descriptor, inspecting it with
// fstat to classify its NodeType (§3: regular, directory, pipe, etc).
func Import(hostFD int) (*FD, error) {
	var s unix.Stat_t
	if err := unix.Fstat(hostFD, &s); err != nil {
		return nil, kernerr.Wrap("import_fd", posix.EIO, err)
	}
	return &FD{hostFD: hostFD, typ: classify(s.Mode)}, nil
}

// Pipe creates a connected pair of host FDs backing an anonymous pipe
// (§4.7's pipe() syscall at number 97).
func Pipe() (r, w *FD, err error) {
	var fds [2]int
	if e := unix.Pipe(fds[:]); e != nil {
		return nil, nil, kernerr.Wrap("pipe", posix.EMFILE, e)
	}
	return &FD{hostFD: fds[0], typ: posix.TypePipe}, &FD{hostFD: fds[1], typ: posix.TypePipe}, nil
}

func classify(mode uint32) posix.NodeType {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return posix.TypeDirectory
	case unix.S_IFIFO:
		return posix.TypePipe
	case unix.S_IFCHR:
		return posix.TypeCharDevice
	case unix.S_IFSOCK:
		return posix.TypeSocket
	default:
		return posix.TypeRegular
	}
}

// Type implements FSNode.
func (f *FD) Type() posix.NodeType { return f.typ }

// CanRead implements FSNode: every imported host fd is assumed readable;
// an actual read failure at O_WRONLY surfaces as EBADF from the host.
func (f *FD) CanRead() bool { return true }

// CanWrite implements FSNode.
func (f *FD) CanWrite() bool { return true }

// ReadAt reads from the host fd at the given offset, for regular files
// that support pread (§4.7: PRead is distinct from PWrite — it never
// mutates the shared position).
func (f *FD) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, kernerr.New("pread", posix.EBADF)
	}
	n, err := unix.Pread(f.hostFD, p, off)
	if err != nil {
		return n, kernerr.Wrap("pread", posix.EIO, err)
	}
	return n, nil
}

// WriteAt writes to the host fd at the given offset (§4.7: PWrite is the
// write half of the pair, distinct from PRead).
func (f *FD) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, kernerr.New("pwrite", posix.EBADF)
	}
	n, err := unix.Pwrite(f.hostFD, p, off)
	if err != nil {
		return n, kernerr.Wrap("pwrite", posix.EIO, err)
	}
	return n, nil
}

// Read performs a sequential, position-less read — the form a pipe fd
// uses, since pipes have no seekable offset.
func (f *FD) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, kernerr.New("read", posix.EBADF)
	}
	n, err := unix.Read(f.hostFD, p)
	if err != nil {
		return n, kernerr.Wrap("read", posix.EIO, err)
	}
	return n, nil
}

// Write performs a sequential, position-less write.
func (f *FD) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, kernerr.New("write", posix.EBADF)
	}
	n, err := unix.Write(f.hostFD, p)
	if err != nil {
		return n, kernerr.Wrap("write", posix.EIO, err)
	}
	return n, nil
}

// Stat fills in the filesystem node's metadata (§3).
func (f *FD) Stat() (posix.Stat, error) {
	var s unix.Stat_t
	if err := unix.Fstat(f.hostFD, &s); err != nil {
		return posix.Stat{}, kernerr.Wrap("fstat", posix.EIO, err)
	}
	return posix.Stat{
		Ino:     s.Ino,
		Mode:    s.Mode,
		NLink:   uint32(s.Nlink),
		UID:     s.Uid,
		GID:     s.Gid,
		Size:    s.Size,
		BlkSize: int64(s.Blksize),
		Blocks:  s.Blocks,
		ATimeNs: s.Atim.Nano(),
		MTimeNs: s.Mtim.Nano(),
		CTimeNs: s.Ctim.Nano(),
	}, nil
}

// Close releases the host fd. Idempotent: a second call returns EBADF
// rather than re-closing the (possibly-reused) integer.
func (f *FD) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return kernerr.New("close", posix.EBADF)
	}
	f.closed = true
	return unix.Close(f.hostFD)
}

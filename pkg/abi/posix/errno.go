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

// Package posix carries the ABI-level constants the kernel core must keep
// byte-exact: errno numbers, file-descriptor mode bits, and the stat and
// socket-address wire layouts. Everything here is a thin, renamed view over
// golang.org/x/sys/unix so the rest of the tree never has to reach past this
// package for a raw platform constant.
package posix

import "golang.org/x/sys/unix"

// Errno values used throughout the kernel core. Aliasing unix.Errno keeps
// these comparable against the standard library's os/syscall errors and
// against golang.org/x/sys/unix return values from any host-backed node.
const (
	EPERM   = unix.EPERM
	ENOENT  = unix.ENOENT
	ESRCH   = unix.ESRCH
	EINTR   = unix.EINTR
	EIO     = unix.EIO
	ENXIO   = unix.ENXIO
	E2BIG   = unix.E2BIG
	EBADF   = unix.EBADF
	ECHILD  = unix.ECHILD
	EAGAIN  = unix.EAGAIN
	ENOMEM  = unix.ENOMEM
	EACCES  = unix.EACCES
	EFAULT  = unix.EFAULT
	EBUSY   = unix.EBUSY
	EEXIST  = unix.EEXIST
	EXDEV   = unix.EXDEV
	ENODEV  = unix.ENODEV
	ENOTDIR = unix.ENOTDIR
	EISDIR  = unix.EISDIR
	EINVAL  = unix.EINVAL
	ENFILE  = unix.ENFILE
	EMFILE  = unix.EMFILE
	ENOTTY  = unix.ENOTTY
	EFBIG   = unix.EFBIG
	ENOSPC  = unix.ENOSPC
	ESPIPE  = unix.ESPIPE
	EROFS   = unix.EROFS
	EPIPE   = unix.EPIPE
	ENOSYS  = unix.ENOSYS
	ENOTEMPTY = unix.ENOTEMPTY
	ELOOP   = unix.ELOOP
	ENOMSG  = unix.ENOMSG
	ENOTSOCK    = unix.ENOTSOCK
	EDESTADDRREQ = unix.EDESTADDRREQ
	EMSGSIZE    = unix.EMSGSIZE
	EPROTOTYPE  = unix.EPROTOTYPE
	ENOPROTOOPT = unix.ENOPROTOOPT
	EOPNOTSUPP  = unix.EOPNOTSUPP
	EAFNOSUPPORT = unix.EAFNOSUPPORT
	EADDRINUSE  = unix.EADDRINUSE
	EADDRNOTAVAIL = unix.EADDRNOTAVAIL
	ENETDOWN    = unix.ENETDOWN
	ENETUNREACH = unix.ENETUNREACH
	ECONNRESET  = unix.ECONNRESET
	ENOBUFS     = unix.ENOBUFS
	EISCONN     = unix.EISCONN
	ENOTCONN    = unix.ENOTCONN
	ETIMEDOUT   = unix.ETIMEDOUT
	ECONNREFUSED = unix.ECONNREFUSED
	EALREADY    = unix.EALREADY
	EINPROGRESS = unix.EINPROGRESS
)

// Errno is the kernel-internal error type returned by every fallible
// operation that can surface to usermode. A zero Errno means success; the
// dispatcher negates a non-zero Errno to build the usermode return value.
type Errno = unix.Errno

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

package posix

import "golang.org/x/sys/unix"

// File descriptor open-mode bits. O_RDONLY/O_WRONLY/O_RDWR occupy the low
// two bits exactly as the ABI requires; the rest are independent flags.
const (
	ORDONLY   = unix.O_RDONLY
	OWRONLY   = unix.O_WRONLY
	ORDWR     = unix.O_RDWR
	OACCMODE  = unix.O_ACCMODE
	OCREAT    = unix.O_CREAT
	OEXCL     = unix.O_EXCL
	OTRUNC    = unix.O_TRUNC
	OAPPEND   = unix.O_APPEND
	ONONBLOCK = unix.O_NONBLOCK
	OCLOEXEC  = unix.O_CLOEXEC
	ODIRECTORY = unix.O_DIRECTORY
	ONOFOLLOW  = unix.O_NOFOLLOW
)

// Memory-mapping protection and flag bits for SysMapMemory/SysMapSharedMemory.
const (
	PROTNONE  = unix.PROT_NONE
	PROTREAD  = unix.PROT_READ
	PROTWRITE = unix.PROT_WRITE
	PROTEXEC  = unix.PROT_EXEC

	MAPSHARED  = unix.MAP_SHARED
	MAPPRIVATE = unix.MAP_PRIVATE
	MAPFIXED   = unix.MAP_FIXED
	MAPANON    = unix.MAP_ANON
)

// MSG_* flags honoured by socket send/recv.
const (
	MSGDONTWAIT = unix.MSG_DONTWAIT
	MSGPEEK     = unix.MSG_PEEK
	MSGTRUNC    = unix.MSG_TRUNC
)

// POLL* event bits used by the Wait/Watcher subject table and by poll/select.
const (
	POLLIN  = unix.POLLIN
	POLLOUT = unix.POLLOUT
	POLLERR = unix.POLLERR
	POLLHUP = unix.POLLHUP
	POLLNVAL = unix.POLLNVAL
)

// Socket address families.
const (
	AFUNIX = unix.AF_UNIX
	AFINET = unix.AF_INET
)

// Socket types.
const (
	SOCKSTREAM = unix.SOCK_STREAM
	SOCKDGRAM  = unix.SOCK_DGRAM
)

// UnixPathMax is the size of sockaddr_un's sun_path array.
const UnixPathMax = 108

// Waitpid flags.
const (
	WNOHANG    = 1
	WUNTRACED  = 2
	WCONTINUED = 4
)

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

// Package kernerr is the kernel core's error vocabulary. Every user-visible
// expected failure is a *kernerr.Error wrapping a POSIX errno; programming
// bugs and broken invariants use plain Go panics instead (see §7 of the
// design: "kernel invariants broken" never reach the user as an errno).
package kernerr

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"nyanos.dev/kernel/pkg/abi/posix"
)

// Error wraps a POSIX errno with an optional operation label and cause, so
// that %w-style wrapping and errors.Is/As work the way callers of a normal
// Go API expect, while still reducing losslessly to a single negative
// errno at the syscall boundary.
type Error struct {
	Errno posix.Errno
	Op    string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Errno, e.cause)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Errno)
	}
	return e.Errno.Error()
}

// Unwrap exposes the causal chain so errors.Is(err, context.DeadlineExceeded)
// style checks keep working through a kernerr.Error.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the same errno, independent of Op/cause,
// which is what callers almost always want to test ("is this EAGAIN?").
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Errno == other.Errno
	}
	return errors.Is(e.Errno, target)
}

// New builds an *Error for op failing with errno.
func New(op string, errno posix.Errno) *Error {
	return &Error{Errno: errno, Op: op}
}

// Wrap builds an *Error for op failing with errno, caused by cause.
func Wrap(op string, errno posix.Errno, cause error) *Error {
	return &Error{Errno: errno, Op: op, cause: cause}
}

// ToErrno reduces any error to the negative int64 a syscall handler must
// return. A nil error becomes 0; an *Error becomes -errno; any other error
// is treated as an unclassified EIO, which should be rare enough in
// practice to be worth a log line at the call site.
func ToErrno(err error) int64 {
	if err == nil {
		return 0
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return -int64(kerr.Errno)
	}
	var errno posix.Errno
	if errors.As(err, &errno) {
		return -int64(errno)
	}
	return -int64(posix.EIO)
}

// Combine aggregates independent teardown failures (closing file
// descriptors, releasing handles, unmapping regions) into one error without
// losing any of them, mirroring the multierr idiom the retrieved test
// harness uses to compose independent packet-layer failures.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

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

package kernerr

import (
	"errors"
	"testing"

	"nyanos.dev/kernel/pkg/abi/posix"
)

func TestIsMatchesByErrnoIgnoringOpAndCause(t *testing.T) {
	a := New("read", posix.EAGAIN)
	b := New("write", posix.EAGAIN)
	if !errors.Is(a, b) {
		t.Fatalf("expected errors with the same errno to match regardless of Op")
	}
	if errors.Is(a, New("read", posix.EBADF)) {
		t.Fatalf("errors with different errno should not match")
	}
}

func TestIsMatchesBarePosixErrno(t *testing.T) {
	a := New("read", posix.ENOENT)
	if !errors.Is(a, posix.ENOENT) {
		t.Fatalf("expected Is to match against a bare posix.Errno")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying fstat failure")
	e := Wrap("stat", posix.EIO, cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected Unwrap to expose the wrapped cause")
	}
}

func TestToErrnoReducesNilToZero(t *testing.T) {
	if got := ToErrno(nil); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestToErrnoReducesErrorToNegativeErrno(t *testing.T) {
	got := ToErrno(New("open", posix.ENOENT))
	want := -int64(posix.ENOENT)
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestToErrnoTreatsUnclassifiedErrorAsEIO(t *testing.T) {
	got := ToErrno(errors.New("some other failure"))
	want := -int64(posix.EIO)
	if got != want {
		t.Fatalf("got %d, want %d (EIO)", got, want)
	}
}

func TestCombineAggregatesIndependentFailures(t *testing.T) {
	e1 := New("close_fd_3", posix.EBADF)
	e2 := New("unmap_region", posix.EINVAL)
	combined := Combine(nil, e1, nil, e2)
	if !errors.Is(combined, e1) {
		t.Fatalf("Combine lost the first error")
	}
	if !errors.Is(combined, e2) {
		t.Fatalf("Combine lost the second error")
	}
}

func TestCombineAllNilReturnsNil(t *testing.T) {
	if err := Combine(nil, nil); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}

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

package host

import (
	"errors"
	"testing"

	"nyanos.dev/kernel/pkg/abi/posix"
)

func TestPipeRoundTrip(t *testing.T) {
	r, w, err := Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if r.Type() != posix.TypePipe || w.Type() != posix.TypePipe {
		t.Fatalf("got r.Type=%v w.Type=%v, want TypePipe for both", r.Type(), w.Type())
	}

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}
}

func TestStatOnPipeFDReportsInode(t *testing.T) {
	r, w, err := Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	st, err := r.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Ino == 0 {
		t.Fatalf("got zero inode from Stat")
	}
}

func TestCloseIsIdempotentAndFailsOnSecondCall(t *testing.T) {
	r, w, err := Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()

	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); !errors.Is(err, posix.EBADF) {
		t.Fatalf("got err=%v, want EBADF on double close", err)
	}
}

func TestOperationsAfterCloseFailEBADF(t *testing.T) {
	r, w, err := Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()

	w.Close()
	if _, err := w.Write([]byte("x")); !errors.Is(err, posix.EBADF) {
		t.Fatalf("Write after Close: got err=%v, want EBADF", err)
	}
}

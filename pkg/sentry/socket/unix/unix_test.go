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

package unix

import (
	"errors"
	"testing"

	"nyanos.dev/kernel/pkg/abi/posix"
)

func TestBindThenDuplicateBindFails(t *testing.T) {
	r := NewRegistry()
	l1 := NewListener(r)
	if err := r.Bind("/svc", l1); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	l2 := NewListener(r)
	if err := r.Bind("/svc", l2); !errors.Is(err, posix.EADDRINUSE) {
		t.Fatalf("got err=%v, want EADDRINUSE", err)
	}
}

func TestConnectToUnboundPathFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Connect("/nope", false); !errors.Is(err, posix.ECONNREFUSED) {
		t.Fatalf("got err=%v, want ECONNREFUSED", err)
	}
}

func TestConnectBeforeListenFails(t *testing.T) {
	r := NewRegistry()
	l := NewListener(r)
	r.Bind("/svc", l)
	if _, err := r.Connect("/svc", false); !errors.Is(err, posix.ECONNREFUSED) {
		t.Fatalf("got err=%v, want ECONNREFUSED for a bound-but-not-listening socket", err)
	}
}

func TestAcceptAfterConnectRoundTrip(t *testing.T) {
	r := NewRegistry()
	l := NewListener(r)
	r.Bind("/svc", l)
	if err := l.Listen(1); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client, err := r.Connect("/svc", false)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server, err := l.Accept(true, 0, false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := client.Write([]byte("hi"), false, 0, true); err != nil {
		t.Fatalf("client Write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := server.Read(buf, true, 0, false)
	if err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("got %q, want %q", buf[:n], "hi")
	}
}

func TestAcceptNonBlockingWithNothingPendingReturnsEAGAIN(t *testing.T) {
	r := NewRegistry()
	l := NewListener(r)
	r.Bind("/svc", l)
	l.Listen(1)
	if _, err := l.Accept(true, 0, false); !errors.Is(err, posix.EAGAIN) {
		t.Fatalf("got err=%v, want EAGAIN", err)
	}
}

func TestStreamReadDrainsContiguousBytesAcrossWrites(t *testing.T) {
	a, b := newPair(false)
	a.Write([]byte("foo"), false, 0, true)
	a.Write([]byte("bar"), false, 0, true)

	buf := make([]byte, 16)
	n, err := b.Read(buf, true, 0, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "foobar" {
		t.Fatalf("got %q, want %q (stream mode coalesces writes)", buf[:n], "foobar")
	}
}

func TestDatagramReadPreservesMessageBoundaries(t *testing.T) {
	a, b := newPair(true)
	a.Write([]byte("foo"), false, 0, true)
	a.Write([]byte("bar"), false, 0, true)

	buf := make([]byte, 16)
	n, _ := b.Read(buf, true, 0, false)
	if string(buf[:n]) != "foo" {
		t.Fatalf("first datagram: got %q, want %q", buf[:n], "foo")
	}
	n, _ = b.Read(buf, true, 0, false)
	if string(buf[:n]) != "bar" {
		t.Fatalf("second datagram: got %q, want %q", buf[:n], "bar")
	}
}

func TestCloseDisconnectsPeer(t *testing.T) {
	a, b := newPair(false)
	a.Close()

	if _, err := b.Write([]byte("x"), false, 0, true); !errors.Is(err, posix.EPIPE) {
		t.Fatalf("peer Write after Close: got err=%v, want EPIPE", err)
	}
	n, err := b.Read(make([]byte, 4), true, 0, false)
	if err != nil || n != 0 {
		t.Fatalf("peer Read after Close: got n=%d err=%v, want n=0 err=nil (EOF)", n, err)
	}
}

func TestDoubleCloseIsIdempotent(t *testing.T) {
	a, _ := newPair(false)
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

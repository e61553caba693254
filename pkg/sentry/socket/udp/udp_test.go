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

package udp

import (
	"errors"
	"testing"

	"nyanos.dev/kernel/pkg/abi/posix"
)

// loopbackTransport delivers every Send straight back into the owning
// Demux's table, standing in for a real link layer in these tests.
type loopbackTransport struct {
	dx *Demux
}

func (lt *loopbackTransport) Route(posix.SockAddrInet) error { return nil }

func (lt *loopbackTransport) Send(src, dst posix.SockAddrInet, payload []byte) error {
	lt.dx.Deliver(src, dst.Port, payload)
	return nil
}

func TestBindExplicitPortThenDuplicateBindFails(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}
	a := New(dx, tr)
	if err := a.Bind(5000); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	b := New(dx, tr)
	if err := b.Bind(5000); !errors.Is(err, posix.EADDRINUSE) {
		t.Fatalf("got err=%v, want EADDRINUSE", err)
	}
}

func TestDoubleBindSameSocketFails(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}
	s := New(dx, tr)
	if err := s.Bind(5000); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if err := s.Bind(5001); err == nil {
		t.Fatalf("second Bind on an already-bound socket succeeded, want error")
	}
}

func TestEphemeralBindAllocatesFromLowEnd(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}
	s := New(dx, tr)
	if err := s.Bind(0); err != nil {
		t.Fatalf("Bind(0): %v", err)
	}
	if s.Port() != ephemeralPortRangeLow {
		t.Fatalf("got port=%d, want first ephemeral port %d", s.Port(), ephemeralPortRangeLow)
	}
}

func TestEphemeralAllocationFallsBackToLinearScanAfterCounterExhausted(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}

	// Exhaust the counter-assigned path, then free every socket. The
	// counter itself never resets, so each fresh ephemeral request falls
	// through to the linear scan, which starts at the bottom of the range
	// and so hands back the lowest free port, here the one just freed.
	dx.d.nextEphemeralPort = ephemeralPortRangeHigh
	s1 := New(dx, tr)
	if err := s1.Bind(0); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	lastAssigned := s1.Port()
	s1.Destroy()

	s2 := New(dx, tr)
	if err := s2.Bind(0); err != nil {
		t.Fatalf("second Bind: %v", err)
	}
	if s2.Port() != ephemeralPortRangeLow {
		t.Fatalf("got port=%d, want linear-scan fallback to start at %d (lowest free port after %d was released)", s2.Port(), ephemeralPortRangeLow, lastAssigned)
	}
}

func TestSendToLoopbackRoundTrip(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}

	server := New(dx, tr)
	if err := server.Bind(6000); err != nil {
		t.Fatalf("server Bind: %v", err)
	}

	client := New(dx, tr)
	dst := posix.SockAddrInet{Port: 6000}
	if _, err := client.SendTo(dst, []byte("ping")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, 16)
	n, _, err := server.RecvFrom(buf, true, 0, false)
	if err != nil {
		t.Fatalf("RecvFrom: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}
}

func TestSendToAssignsEphemeralSourcePortOnFirstSend(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}
	client := New(dx, tr)
	if client.Port() != 0 {
		t.Fatalf("fresh socket already has a port")
	}
	if _, err := client.SendTo(posix.SockAddrInet{Port: 1}, []byte("x")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if client.Port() == 0 {
		t.Fatalf("SendTo did not assign an ephemeral source port")
	}
}

func TestRecvFromNonBlockingOnEmptyQueueReturnsEAGAIN(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}
	s := New(dx, tr)
	s.Bind(7000)
	if _, _, err := s.RecvFrom(make([]byte, 4), true, 0, false); !errors.Is(err, posix.EAGAIN) {
		t.Fatalf("got err=%v, want EAGAIN", err)
	}
}

func TestDestroyReleasesBoundPortForReBind(t *testing.T) {
	dx := NewDemux()
	tr := &loopbackTransport{dx: dx}
	s1 := New(dx, tr)
	s1.Bind(8000)
	s1.Destroy()

	s2 := New(dx, tr)
	if err := s2.Bind(8000); err != nil {
		t.Fatalf("Bind after peer Destroy: %v", err)
	}
}

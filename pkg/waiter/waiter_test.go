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

package waiter

import (
	"sync"
	"testing"
	"time"
)

// fakeSubject is a minimal Waitable with a manually toggled readiness bit.
type fakeSubject struct {
	Queue
	mu    sync.Mutex
	ready EventMask
}

func (f *fakeSubject) Readiness(mask EventMask) EventMask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready & mask
}

func (f *fakeSubject) setReady(ev EventMask) {
	f.mu.Lock()
	f.ready = ev
	f.mu.Unlock()
	f.Notify(ev)
}

func TestWaitOneAlreadyReady(t *testing.T) {
	s := &fakeSubject{ready: EventIn}
	idx, ev, err := WaitOne([]Waitable{s}, []EventMask{EventIn}, 0, false, nil)
	if err != nil {
		t.Fatalf("WaitOne: %v", err)
	}
	if idx != 0 || ev != EventIn {
		t.Fatalf("got idx=%d ev=%v, want idx=0 ev=EventIn", idx, ev)
	}
}

func TestWaitOneBlocksUntilNotified(t *testing.T) {
	s := &fakeSubject{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		idx, ev, err := WaitOne([]Waitable{s}, []EventMask{EventIn}, 0, true, nil)
		if err != nil {
			t.Errorf("WaitOne: %v", err)
		}
		if idx != 0 || ev&EventIn == 0 {
			t.Errorf("got idx=%d ev=%v", idx, ev)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	s.setReady(EventIn)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitOne never returned after notify")
	}
}

func TestWaitOneTimeout(t *testing.T) {
	s := &fakeSubject{}
	_, _, err := WaitOne([]Waitable{s}, []EventMask{EventIn}, 10*time.Millisecond, false, nil)
	if err != ErrTimeout {
		t.Fatalf("got err=%v, want ErrTimeout", err)
	}
}

func TestWaitOneInterrupted(t *testing.T) {
	s := &fakeSubject{}
	b := NewBlocker()
	done := make(chan error, 1)
	go func() {
		_, _, err := WaitOne([]Waitable{s}, []EventMask{EventIn}, 0, true, b)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Interrupt()

	select {
	case err := <-done:
		if err != ErrInterrupted {
			t.Fatalf("got err=%v, want ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOne never returned after interrupt")
	}
}

func TestBlockerWakeAndInterruptAreIdempotent(t *testing.T) {
	b := NewBlocker()
	b.Wake()
	b.Wake()
	b.Interrupt() // should not panic or block even though Wake already fired.
	if !b.HasFired() {
		t.Fatal("expected HasFired after Wake")
	}
	if b.Interrupted() {
		t.Fatal("first firer was Wake, not Interrupt")
	}
}

func TestPollReturnsSnapshotForEverySubject(t *testing.T) {
	ready := &fakeSubject{ready: EventIn}
	notReady := &fakeSubject{}

	n, revents, err := Poll([]Waitable{ready, notReady}, []EventMask{EventIn, EventIn}, 0, false, nil)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("got ready=%d, want 1", n)
	}
	if len(revents) != 2 || revents[0] != EventIn || revents[1] != 0 {
		t.Fatalf("got revents=%v, want [EventIn, 0]", revents)
	}
}

func TestQueueNotifyOnlyFiresIntersectingMask(t *testing.T) {
	var q Queue
	var fired EventMask
	e := &Entry{
		Mask: EventIn,
		Callback: func(_ *Entry, ev EventMask) {
			fired = ev
		},
	}
	q.EventRegister(e)
	q.Notify(EventOut) // should not fire: mask doesn't intersect.
	if fired != 0 {
		t.Fatalf("callback fired on non-matching event: %v", fired)
	}
	q.Notify(EventIn | EventOut)
	if fired != EventIn {
		t.Fatalf("got fired=%v, want EventIn", fired)
	}
}

func TestQueueUnregisterStopsNotifications(t *testing.T) {
	var q Queue
	calls := 0
	e := &Entry{Mask: EventIn, Callback: func(*Entry, EventMask) { calls++ }}
	q.EventRegister(e)
	q.EventUnregister(e)
	q.Notify(EventIn)
	if calls != 0 {
		t.Fatalf("got %d calls after unregister, want 0", calls)
	}
}

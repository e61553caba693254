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

// Package waiter implements the single generic multi-object wait primitive
// described in §4.3: one mechanism backing poll, select, waitpid,
// interface-accept, endpoint-call, and filesystem change subscriptions.
//
// The subject side is a small sealed set (§9 design notes: "a tagged
// variant with a single poll method rather than runtime vtables"), exposed
// here as the Waitable interface so that Process, Endpoint, Interface, and
// filesystem-node adapters can each implement it without a class
// hierarchy.
package waiter

import (
	"sync"
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
)

// EventMask is a bitmask of readiness events, aliased onto the same POLL*
// bit values the ABI uses so a Waitable's Readiness() can be copied
// directly into a pollfd's revents.
type EventMask uint32

const (
	EventIn  EventMask = EventMask(posix.POLLIN)
	EventOut EventMask = EventMask(posix.POLLOUT)
	EventErr EventMask = EventMask(posix.POLLERR)
	EventHUp EventMask = EventMask(posix.POLLHUP)
)

// Waitable is implemented by every subject the Wait/Watcher can watch.
type Waitable interface {
	// Readiness returns the subset of mask currently satisfied.
	Readiness(mask EventMask) EventMask

	// EventRegister adds e to this subject's waiter queue. Idempotent: a
	// duplicate add of the same Entry pointer is a no-op (§4.3).
	EventRegister(e *Entry)

	// EventUnregister removes e from this subject's waiter queue.
	EventUnregister(e *Entry)
}

// Entry is one (subject, mask) registration. The Callback fires whenever
// the subject transitions into readiness for (a subset of) Mask; it must
// not block.
type Entry struct {
	Mask     EventMask
	Callback func(*Entry, EventMask)

	// mu guards list linkage when an Entry is registered with a Queue.
	mu      sync.Mutex
	queue   *Queue
	element *entryElement
}

type entryElement struct {
	entry *Entry
	prev  *entryElement
	next  *entryElement
}

// Queue is the waiter list owned by one Waitable. Kernel objects that can
// be waited on (Endpoint, Interface, Process, a filesystem node adapter)
// embed a Queue and call Notify whenever their readiness changes.
type Queue struct {
	mu   sync.Mutex
	head *entryElement
	tail *entryElement
}

// EventRegister implements Waitable-style registration for embedders.
func (q *Queue) EventRegister(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue == q {
		return // idempotent: already registered with this queue.
	}
	if e.queue != nil {
		e.queue.remove(e)
	}
	elem := &entryElement{entry: e}
	e.queue = q
	e.element = elem

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == nil {
		q.head, q.tail = elem, elem
	} else {
		elem.prev = q.tail
		q.tail.next = elem
		q.tail = elem
	}
}

// EventUnregister implements Waitable-style deregistration for embedders.
func (q *Queue) EventUnregister(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue != q {
		return
	}
	q.remove(e)
	e.queue = nil
	e.element = nil
}

// remove must be called with e.mu held; it locks q.mu itself.
func (q *Queue) remove(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem := e.element
	if elem == nil {
		return
	}
	if elem.prev != nil {
		elem.prev.next = elem.next
	} else {
		q.head = elem.next
	}
	if elem.next != nil {
		elem.next.prev = elem.prev
	} else {
		q.tail = elem.prev
	}
}

// Notify walks the registered entries and invokes the callback of every
// entry whose mask intersects the ready mask. Called by the owning object
// whenever its Readiness() may have changed.
func (q *Queue) Notify(ready EventMask) {
	q.mu.Lock()
	// Snapshot so callbacks (which may re-enter EventRegister/Unregister)
	// don't race the list we're walking.
	var entries []*Entry
	for e := q.head; e != nil; e = e.next {
		entries = append(entries, e.entry)
	}
	q.mu.Unlock()

	for _, e := range entries {
		if m := e.Mask & ready; m != 0 {
			e.Callback(e, m)
		}
	}
}

// ErrInterrupted is returned by Wait when the blocked thread was
// interrupted via the thread-interrupt syscall before any subject fired.
var ErrInterrupted = kernerr.New("wait", posix.EINTR)

// ErrTimeout is returned by Wait when the timeout elapsed with no subject
// firing.
var ErrTimeout = kernerr.New("wait", posix.EAGAIN)

// Blocker is the one-shot condition a thread installs before parking
// (§5). Wake and Interrupt are both idempotent; whichever fires first
// wins, matching "unblocking is idempotent: multiple wakers leave the
// thread Ready exactly once."
type Blocker struct {
	once        sync.Once
	ch          chan struct{}
	interrupted bool
}

// NewBlocker returns a ready-to-use Blocker.
func NewBlocker() *Blocker {
	return &Blocker{ch: make(chan struct{})}
}

// Wake unblocks the parked thread because a watched event fired.
func (b *Blocker) Wake() {
	b.once.Do(func() { close(b.ch) })
}

// Interrupt unblocks the parked thread because another thread called
// interrupt_thread on it.
func (b *Blocker) Interrupt() {
	b.once.Do(func() {
		b.interrupted = true
		close(b.ch)
	})
}

// HasFired reports whether Wake or Interrupt has already been called.
func (b *Blocker) HasFired() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Interrupted reports whether the firing cause was Interrupt rather than
// Wake. Only meaningful after HasFired() is true.
func (b *Blocker) Interrupted() bool { return b.interrupted }

// Channel exposes the underlying close-on-fire channel for select loops
// that need to multiplex it with a timer.
func (b *Blocker) Channel() <-chan struct{} { return b.ch }

// WaitOne registers one Entry per subject, checks for already-satisfied
// readiness, and otherwise parks the calling goroutine (standing in for a
// kernel thread) on a Blocker until a subject fires, the timeout elapses,
// or the thread is interrupted.
//
// It returns the index of a subject that is (or became) ready. A
// non-positive timeout (<=0) with infinite==false means "return
// immediately if nothing is ready"; callers that want to block forever
// should pass infinite=true.
func WaitOne(subjects []Waitable, masks []EventMask, timeout time.Duration, infinite bool, blocker *Blocker) (int, EventMask, error) {
	if len(subjects) != len(masks) {
		panic("waiter: subjects/masks length mismatch")
	}

	// Fast path: something is already ready.
	for i, s := range subjects {
		if ev := s.Readiness(masks[i]); ev != 0 {
			return i, ev, nil
		}
	}

	if blocker == nil {
		blocker = NewBlocker()
	}

	fired := make([]EventMask, len(subjects))
	var firedMu sync.Mutex
	entries := make([]*Entry, len(subjects))
	for i, s := range subjects {
		i := i
		entries[i] = &Entry{
			Mask: masks[i],
			Callback: func(_ *Entry, ev EventMask) {
				firedMu.Lock()
				fired[i] |= ev
				firedMu.Unlock()
				blocker.Wake()
			},
		}
		s.EventRegister(entries[i])
	}
	defer func() {
		for i, s := range subjects {
			s.EventUnregister(entries[i])
		}
	}()

	// Re-check after registering, since readiness may have changed
	// between the fast-path check and registration.
	for i, s := range subjects {
		if ev := s.Readiness(masks[i]); ev != 0 {
			return i, ev, nil
		}
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !infinite {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-blocker.Channel():
		if blocker.Interrupted() {
			return -1, 0, ErrInterrupted
		}
		for i, s := range subjects {
			if ev := s.Readiness(masks[i]); ev != 0 {
				return i, ev, nil
			}
		}
		// Some subjects (e.g. a futex queue) never report readiness
		// through polling; their Callback firing is the only signal
		// that they were woken, so honor that before giving up.
		firedMu.Lock()
		winner, winnerEv := -1, EventMask(0)
		for i, ev := range fired {
			if ev != 0 {
				winner, winnerEv = i, ev
				break
			}
		}
		firedMu.Unlock()
		if winner >= 0 {
			return winner, winnerEv, nil
		}
		// Woken but nothing reads ready anymore (e.g. raced with another
		// waiter draining the same queue): report timeout-equivalent.
		return -1, 0, ErrTimeout
	case <-timeoutCh:
		return -1, 0, ErrTimeout
	}
}

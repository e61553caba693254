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

// Package ipc implements the local IPC substrate (§4.4): named Services,
// per-Service Interfaces, and the paired MessageEndpoints Interfaces
// hand out on accept/connect.
package ipc

import (
	"sync"
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/sentry/kernel/handle"
	"nyanos.dev/kernel/pkg/waiter"
)

// endpointBacklog bounds how many unread messages an Endpoint will queue
// before write() starts blocking (or failing EAGAIN for a non-blocking
// caller), the concrete form of the "bounded queue of messages" in §3.
const endpointBacklog = 256

// message is one entry in an Endpoint's inbox.
type message struct {
	id   int32
	data []byte
}

// Endpoint holds one side of a paired IPC channel (§3). The peer pointer
// is a weak reference per the design notes (§9): an Endpoint never keeps
// its peer alive, it only asks the peer's own destroyed flag whether it
// is still there.
type Endpoint struct {
	waiter.Queue

	mu         sync.Mutex
	inbox      []message
	maxMsgSize int32
	destroyed  bool
	peer       *Endpoint // weak: never IncRef'd.

	destroyOnce sync.Once
}

// NewPair allocates a connected pair of Endpoints with the given maximum
// message size (copied from the owning Interface at connect time).
func NewPair(maxMsgSize int32) (a, b *Endpoint) {
	a = &Endpoint{maxMsgSize: maxMsgSize}
	b = &Endpoint{maxMsgSize: maxMsgSize}
	a.peer = b
	b.peer = a
	return a, b
}

// Type implements handle.Object.
func (e *Endpoint) Type() handle.Type { return handle.TypeEndpoint }

// Destroy implements handle.Object: it marks the endpoint disconnected so
// the peer's subsequent writes fail and pending reads observe EOF (§3:
// "destroying either end of a pair marks the other as disconnected").
func (e *Endpoint) Destroy() {
	e.destroyOnce.Do(func() {
		e.mu.Lock()
		e.destroyed = true
		e.mu.Unlock()
		e.Notify(waiter.EventIn | waiter.EventHUp)
		if e.peer != nil {
			e.peer.Notify(waiter.EventOut | waiter.EventHUp)
		}
	})
}

func (e *Endpoint) peerDestroyed() bool {
	if e.peer == nil {
		return true
	}
	e.peer.mu.Lock()
	defer e.peer.mu.Unlock()
	return e.peer.destroyed
}

// Readiness implements waiter.Waitable. EventIn is ready when the inbox is
// non-empty or this endpoint itself has been destroyed. A disconnected
// peer is reported as EventHUp in place of EventOut; otherwise EventOut
// is always ready, since the in-memory queue only ever blocks on backlog,
// which Write handles explicitly rather than through polled readiness.
func (e *Endpoint) Readiness(mask waiter.EventMask) waiter.EventMask {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ready waiter.EventMask
	if len(e.inbox) > 0 || e.destroyed {
		ready |= waiter.EventIn
	}
	if e.peerDestroyed() {
		ready |= waiter.EventHUp
	} else {
		ready |= waiter.EventOut
	}
	return ready & mask
}

// Write implements "endpoint write" (§4.4).
func (e *Endpoint) Write(id int32, data []byte, nonBlocking bool, timeout time.Duration, infinite bool) error {
	e.mu.Lock()
	if int32(len(data)) > e.maxMsgSize {
		e.mu.Unlock()
		return kernerr.New("endpoint_write", posix.EMSGSIZE)
	}
	e.mu.Unlock()

	if e.peerDestroyed() {
		return kernerr.New("endpoint_write", posix.ENOTCONN)
	}

	peer := e.peer
	for {
		peer.mu.Lock()
		if peer.destroyed {
			peer.mu.Unlock()
			return kernerr.New("endpoint_write", posix.ENOTCONN)
		}
		if len(peer.inbox) < endpointBacklog {
			cp := make([]byte, len(data))
			copy(cp, data)
			peer.inbox = append(peer.inbox, message{id: id, data: cp})
			peer.mu.Unlock()
			peer.Notify(waiter.EventIn)
			return nil
		}
		peer.mu.Unlock()

		if nonBlocking {
			return kernerr.New("endpoint_write", posix.EAGAIN)
		}
		_, _, err := waiter.WaitOne([]waiter.Waitable{peer}, []waiter.EventMask{waiter.EventIn | waiter.EventHUp}, timeout, infinite, nil)
		if err != nil {
			return err
		}
	}
}

// Read implements "endpoint read" (§4.4): dequeues one message, or
// returns ok=false if the inbox is empty (not an error — the caller is
// responsible for blocking via the Wait primitive beforehand).
func (e *Endpoint) Read() (id int32, data []byte, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return 0, nil, false
	}
	m := e.inbox[0]
	e.inbox = e.inbox[1:]
	return m.id, m.data, true
}

// Call implements "endpoint synchronous call" (§4.4): write the request,
// then wait for a reply with id == expectID on this same endpoint. Other
// messages arriving meanwhile are left in the inbox in arrival order
// (§4.4 invariant: "call does not reorder other messages"). blocker, if
// non-nil, is the caller's Scheduler-installed Blocker, so a concurrent
// interrupt_thread can unblock a pending call.
func (e *Endpoint) Call(sendID int32, data []byte, expectID int32, timeout time.Duration, infinite bool, blocker *waiter.Blocker) ([]byte, error) {
	if err := e.Write(sendID, data, false, timeout, infinite); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		for i, m := range e.inbox {
			if m.id == expectID {
				e.inbox = append(e.inbox[:i:i], e.inbox[i+1:]...)
				e.mu.Unlock()
				return m.data, nil
			}
		}
		e.mu.Unlock()

		remaining := timeout
		if !infinite {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, waiter.ErrTimeout
			}
		}
		_, _, err := waiter.WaitOne([]waiter.Waitable{e}, []waiter.EventMask{waiter.EventIn | waiter.EventHUp}, remaining, infinite, blocker)
		if err != nil {
			return nil, err
		}
		if e.peerDestroyed() {
			e.mu.Lock()
			stillEmpty := true
			for _, m := range e.inbox {
				if m.id == expectID {
					stillEmpty = false
				}
			}
			e.mu.Unlock()
			if stillEmpty {
				return nil, kernerr.New("endpoint_call", posix.ENOTCONN)
			}
		}
	}
}

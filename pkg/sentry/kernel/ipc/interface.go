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

package ipc

import (
	"sync"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/sentry/kernel/handle"
	"nyanos.dev/kernel/pkg/waiter"
)

// Interface is a named connection point exposed by a Service (§3): a
// fixed per-message maximum size, a FIFO queue of pending inbound
// connections, and an accept waiter.
type Interface struct {
	waiter.Queue

	Name       string
	MaxMsgSize int32

	mu        sync.Mutex
	pending   []*Endpoint
	destroyed bool
}

// NewInterface constructs an Interface with the given name and maximum
// message size, owned by the Service that creates it (§4.4).
func NewInterface(name string, maxMsgSize int32) *Interface {
	return &Interface{Name: name, MaxMsgSize: maxMsgSize}
}

// Type implements handle.Object.
func (i *Interface) Type() handle.Type { return handle.TypeInterface }

// Destroy implements handle.Object: disconnects every still-pending
// endpoint so a blocked connector observes EOF rather than hanging.
func (i *Interface) Destroy() {
	i.mu.Lock()
	i.destroyed = true
	pending := i.pending
	i.pending = nil
	i.mu.Unlock()
	for _, e := range pending {
		e.Destroy()
	}
	i.Notify(waiter.EventIn | waiter.EventHUp)
}

// Readiness implements waiter.Waitable: EventIn fires when there is a
// pending connection to accept.
func (i *Interface) Readiness(mask waiter.EventMask) waiter.EventMask {
	i.mu.Lock()
	defer i.mu.Unlock()
	var ready waiter.EventMask
	if len(i.pending) > 0 {
		ready |= waiter.EventIn
	}
	if i.destroyed {
		ready |= waiter.EventHUp
	}
	return ready & mask
}

// Connect implements the connecting half of "connect" (§4.4): it
// allocates a fresh Endpoint pair, returns one side to the caller, and
// enqueues the peer on the Interface's pending list for Accept, waking
// any blocked acceptor.
func (i *Interface) Connect() (*Endpoint, error) {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil, kernerr.New("connect", posix.ECONNREFUSED)
	}
	client, server := NewPair(i.MaxMsgSize)
	i.pending = append(i.pending, server)
	i.mu.Unlock()
	i.Notify(waiter.EventIn)
	return client, nil
}

// Accept implements "accept" (§4.4): pops one pending Endpoint in FIFO
// (connect) order. If none is pending, returns (nil, nil) — not an
// error; blocking is the caller's responsibility via the Wait primitive.
func (i *Interface) Accept() (*Endpoint, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pending) == 0 {
		return nil, nil
	}
	e := i.pending[0]
	i.pending = i.pending[1:]
	return e, nil
}

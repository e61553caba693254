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

// Package unix implements the Local Socket (§4.5): a filesystem-path
// addressed listener handing out paired, backpressured byte or datagram
// streams, mirroring AF_UNIX semantics without any host networking
// dependency.
package unix

import (
	"sync"
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/sentry/kernel/handle"
	"nyanos.dev/kernel/pkg/waiter"
)

// streamBacklog bounds how many unread bytes a Conn queues (for
// SOCK_DGRAM, the summed payload bytes of its queued datagrams) before
// Write starts blocking or failing
// EAGAIN for a non-blocking caller (§4.5: "backpressure").
const streamBacklog = 1 << 16

// Registry is the filesystem-path-indexed table of listening sockets
// (§4.5: "bind associates a filesystem-like path with the listening
// socket").
type Registry struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{listeners: make(map[string]*Listener)} }

// NewListener returns an unbound Listener, the socket()-time half of
// the AF_UNIX socket()+bind() pair; the handle id assigned at
// registration stays stable across the later Bind call.
func NewListener(registry *Registry) *Listener {
	return &Listener{registry: registry}
}

// Bind implements "bind": claims path for an already-allocated Listener
// (§4.5). EADDRINUSE if already bound, matching the UDP Socket's port
// claim semantics (§4.6).
func (r *Registry) Bind(path string, l *Listener) error {
	if len(path) == 0 || len(path) >= posix.UnixPathMax {
		return kernerr.New("bind", posix.EINVAL)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[path]; ok {
		return kernerr.New("bind", posix.EADDRINUSE)
	}
	l.mu.Lock()
	if l.path != "" {
		l.mu.Unlock()
		return kernerr.New("bind", posix.EINVAL)
	}
	l.path = path
	l.mu.Unlock()
	r.listeners[path] = l
	return nil
}

// Connect implements the connecting half of "connect" (§4.5): allocates
// a fresh Conn pair, enqueues the server side on the listener's pending
// list, and returns the client side.
func (r *Registry) Connect(path string, datagram bool) (*Conn, error) {
	r.mu.Lock()
	l, ok := r.listeners[path]
	r.mu.Unlock()
	if !ok {
		return nil, kernerr.New("connect", posix.ECONNREFUSED)
	}
	return l.connect(datagram)
}

func (r *Registry) unbind(path string) {
	r.mu.Lock()
	delete(r.listeners, path)
	r.mu.Unlock()
}

// Listener is a bound, listening Local Socket (§4.5).
type Listener struct {
	waiter.Queue

	path     string
	registry *Registry

	mu        sync.Mutex
	listening bool
	backlog   int
	pending   []*Conn
	destroyed bool
}

// Type implements handle.Object.
func (l *Listener) Type() handle.Type { return handle.TypeSocket }

// Destroy implements handle.Object: unbinds the path and disconnects
// every still-pending connection.
func (l *Listener) Destroy() {
	l.mu.Lock()
	l.destroyed = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	l.registry.unbind(l.path)
	for _, c := range pending {
		c.Close()
	}
	l.Notify(waiter.EventIn | waiter.EventHUp)
}

// Readiness implements waiter.Waitable: EventIn once a connection is
// pending acceptance.
func (l *Listener) Readiness(mask waiter.EventMask) waiter.EventMask {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ready waiter.EventMask
	if len(l.pending) > 0 {
		ready |= waiter.EventIn
	}
	if l.destroyed {
		ready |= waiter.EventHUp
	}
	return ready & mask
}

// Listen implements "listen": makes the bound socket passive, recording
// the requested backlog (advisory only — the pending list is unbounded
// beyond it in this implementation).
func (l *Listener) Listen(backlog int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return kernerr.New("listen", posix.EINVAL)
	}
	l.listening = true
	l.backlog = backlog
	return nil
}

func (l *Listener) connect(datagram bool) (*Conn, error) {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return nil, kernerr.New("connect", posix.ECONNREFUSED)
	}
	if !l.listening {
		l.mu.Unlock()
		return nil, kernerr.New("connect", posix.ECONNREFUSED)
	}
	client, server := newPair(datagram)
	l.pending = append(l.pending, server)
	l.mu.Unlock()
	l.Notify(waiter.EventIn)
	return client, nil
}

// Accept implements "accept" (§4.5): pops one pending Conn in FIFO
// order, blocking per the caller's non-blocking/timeout preference.
func (l *Listener) Accept(nonBlocking bool, timeout time.Duration, infinite bool) (*Conn, error) {
	for {
		l.mu.Lock()
		if len(l.pending) > 0 {
			c := l.pending[0]
			l.pending = l.pending[1:]
			l.mu.Unlock()
			return c, nil
		}
		destroyed := l.destroyed
		l.mu.Unlock()
		if destroyed {
			return nil, kernerr.New("accept", posix.EINVAL)
		}

		if nonBlocking {
			return nil, kernerr.New("accept", posix.EAGAIN)
		}
		_, _, err := waiter.WaitOne([]waiter.Waitable{l}, []waiter.EventMask{waiter.EventIn | waiter.EventHUp}, timeout, infinite, nil)
		if err != nil {
			return nil, err
		}
	}
}

type datagramMsg struct{ data []byte }

// Conn is one connected side of a Local Socket pair (§3, §4.5). Stream
// mode treats inbox as one contiguous byte queue; datagram mode
// preserves message boundaries, the same distinction SOCK_STREAM vs.
// SOCK_DGRAM makes over AF_UNIX.
type Conn struct {
	waiter.Queue

	datagram bool

	mu        sync.Mutex
	bytes     []byte
	msgs      []datagramMsg
	closed    bool
	peer      *Conn // weak reference, never kept alive by this side.
	closeOnce sync.Once
}

func newPair(datagram bool) (a, b *Conn) {
	a = &Conn{datagram: datagram}
	b = &Conn{datagram: datagram}
	a.peer = b
	b.peer = a
	return a, b
}

// Type implements handle.Object.
func (c *Conn) Type() handle.Type { return handle.TypeSocket }

// Destroy implements handle.Object; Close is the same operation under
// the name the syscall table uses.
func (c *Conn) Destroy() { c.Close() }

// Close disconnects this side, per §4.5: "closing one side disconnects
// the peer, which then reports EOF on reads and pipe-broken on writes."
// Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.Notify(waiter.EventIn | waiter.EventHUp)
		if c.peer != nil {
			c.peer.Notify(waiter.EventOut | waiter.EventHUp)
		}
	})
	return nil
}

func (c *Conn) peerClosed() bool {
	if c.peer == nil {
		return true
	}
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()
	return c.peer.closed
}

func (c *Conn) queuedLocked() int {
	if c.datagram {
		n := 0
		for _, m := range c.msgs {
			n += len(m.data)
		}
		return n
	}
	return len(c.bytes)
}

// Readiness implements waiter.Waitable.
func (c *Conn) Readiness(mask waiter.EventMask) waiter.EventMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ready waiter.EventMask
	haveData := (c.datagram && len(c.msgs) > 0) || (!c.datagram && len(c.bytes) > 0)
	if haveData || c.closed {
		ready |= waiter.EventIn
	}
	if c.peerClosed() {
		ready |= waiter.EventHUp
	} else {
		ready |= waiter.EventOut
	}
	return ready & mask
}

// Write implements stream/datagram send (§4.5), honoring MSG_DONTWAIT
// and O_NONBLOCK via the nonBlocking parameter.
func (c *Conn) Write(data []byte, nonBlocking bool, timeout time.Duration, infinite bool) (int, error) {
	if c.peerClosed() {
		return 0, kernerr.New("send", posix.EPIPE)
	}
	peer := c.peer
	for {
		peer.mu.Lock()
		if peer.closed {
			peer.mu.Unlock()
			return 0, kernerr.New("send", posix.EPIPE)
		}
		if peer.queuedLocked() < streamBacklog {
			cp := make([]byte, len(data))
			copy(cp, data)
			if c.datagram {
				peer.msgs = append(peer.msgs, datagramMsg{data: cp})
			} else {
				peer.bytes = append(peer.bytes, cp...)
			}
			peer.mu.Unlock()
			peer.Notify(waiter.EventIn)
			return len(data), nil
		}
		peer.mu.Unlock()

		if nonBlocking {
			return 0, kernerr.New("send", posix.EAGAIN)
		}
		_, _, err := waiter.WaitOne([]waiter.Waitable{peer}, []waiter.EventMask{waiter.EventIn | waiter.EventHUp}, timeout, infinite, nil)
		if err != nil {
			return 0, err
		}
	}
}

// Read implements stream/datagram receive (§4.5): for SOCK_STREAM it
// drains up to len(buf) bytes from the contiguous queue; for SOCK_DGRAM
// it dequeues exactly one message, truncating to the caller's buffer.
// Returns (0, nil) on EOF (peer closed, queue empty) rather than an
// error, matching a read(2) at end-of-stream.
func (c *Conn) Read(buf []byte, nonBlocking bool, timeout time.Duration, infinite bool) (int, error) {
	for {
		c.mu.Lock()
		if c.datagram {
			if len(c.msgs) > 0 {
				m := c.msgs[0]
				c.msgs = c.msgs[1:]
				c.mu.Unlock()
				return copy(buf, m.data), nil
			}
		} else if len(c.bytes) > 0 {
			n := copy(buf, c.bytes)
			c.bytes = c.bytes[n:]
			c.mu.Unlock()
			return n, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if c.peerClosed() || closed {
			return 0, nil
		}
		if nonBlocking {
			return 0, kernerr.New("recv", posix.EAGAIN)
		}
		_, _, err := waiter.WaitOne([]waiter.Waitable{c}, []waiter.EventMask{waiter.EventIn | waiter.EventHUp}, timeout, infinite, nil)
		if err != nil {
			return 0, err
		}
	}
}

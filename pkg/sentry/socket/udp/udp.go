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

// Package udp implements the UDP Socket (§4.6): per-port demultiplexing,
// ephemeral port allocation, and datagram send/receive. The network
// stack below the socket layer is explicitly out of scope (§1); this
// package talks to it only through the small PacketTransport interface,
// so no concrete netstack dependency is required here.
package udp

import (
	"sync"
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/log"
	"nyanos.dev/kernel/pkg/sentry/kernel/handle"
	"nyanos.dev/kernel/pkg/waiter"
)

const (
	portMax                = 65535
	ephemeralPortRangeLow  = 49152
	ephemeralPortRangeHigh = portMax
)

// PacketTransport is the minimal send path a UDP Socket needs from the
// network layer below it (§11): resolve a route (or recognize the
// broadcast special case) and hand a framed payload off for delivery.
// A concrete implementation lives outside this module.
type PacketTransport interface {
	// Route resolves the link-layer destination for dst, or reports an
	// error (e.g. ENETUNREACH) if no route exists.
	Route(dst posix.SockAddrInet) error
	// Send hands a UDP payload to the link layer, already addressed to
	// dst from src.
	Send(src, dst posix.SockAddrInet, payload []byte) error
}

// packet is one datagram queued for a local socket by demux.
type packet struct {
	source  posix.SockAddrInet
	payload []byte
}

// demux is process-independent: it is the single global (well, single
// per-Kernel, per the design notes) port table every UDP Socket
// registers into and every inbound datagram is dispatched through,
// mirroring the original's single sockets hash-map (§9).
type demux struct {
	mu                sync.Mutex
	sockets           map[uint16]*Socket
	nextEphemeralPort uint16
}

// NewDemux returns an empty port table.
func NewDemux() *Demux { return &Demux{d: &demux{sockets: make(map[uint16]*Socket), nextEphemeralPort: ephemeralPortRangeLow}} }

// Demux is the exported handle a Kernel holds onto one demux table.
type Demux struct{ d *demux }

// acquirePort implements "bind a specific port", failing EADDRINUSE if
// taken (§4.6).
func (dx *Demux) acquirePort(sock *Socket, port uint16) error {
	dx.d.mu.Lock()
	defer dx.d.mu.Unlock()
	if port == 0 || port > portMax {
		return kernerr.New("udp_bind", posix.EINVAL)
	}
	if _, taken := dx.d.sockets[port]; taken {
		return kernerr.New("udp_bind", posix.EADDRINUSE)
	}
	dx.d.sockets[port] = sock
	return nil
}

// allocatePort implements ephemeral port allocation (§4.6, §9): a
// monotonic counter is tried first, stepping past ports that are already
// taken; once it runs off the end of the ephemeral range, a linear scan
// from the bottom of the range looks for a free slot. The counter is
// never reset, so after it is exhausted every allocation goes through the
// scan, which hands out the lowest free port, including one just
// released (§8's "possibly-buggy source behavior", kept intentionally).
func (dx *Demux) allocatePort(sock *Socket) uint16 {
	dx.d.mu.Lock()
	port := uint16(0)
	for port == 0 && dx.d.nextEphemeralPort < ephemeralPortRangeHigh {
		p := dx.d.nextEphemeralPort
		dx.d.nextEphemeralPort++
		if _, taken := dx.d.sockets[p]; !taken {
			dx.d.sockets[p] = sock
			port = p
		}
	}
	if port == 0 {
		for p := uint16(ephemeralPortRangeLow); p <= ephemeralPortRangeHigh; p++ {
			if _, taken := dx.d.sockets[p]; !taken {
				dx.d.sockets[p] = sock
				port = p
				break
			}
		}
	}
	dx.d.mu.Unlock()
	if port == 0 {
		log.Warningf("udp: could not allocate ephemeral port")
	}
	return port
}

func (dx *Demux) releasePort(port uint16) {
	dx.d.mu.Lock()
	delete(dx.d.sockets, port)
	dx.d.mu.Unlock()
}

// Deliver dispatches an inbound datagram to the socket bound to
// destPort, if any, dropping it silently otherwise (§4.6, matching the
// original's discard-on-no-match behavior).
func (dx *Demux) Deliver(source posix.SockAddrInet, destPort uint16, payload []byte) {
	dx.d.mu.Lock()
	sock, ok := dx.d.sockets[destPort]
	dx.d.mu.Unlock()
	if !ok {
		return
	}
	sock.onReceive(source, payload)
}

// Socket is a bound or unbound UDP endpoint (§3, §4.6).
type Socket struct {
	waiter.Queue

	demux     *Demux
	transport PacketTransport

	mu      sync.Mutex
	bound   bool
	port    uint16
	packets []packet
}

// New constructs an unbound UDP Socket (§4.6).
func New(dx *Demux, transport PacketTransport) *Socket {
	return &Socket{demux: dx, transport: transport}
}

// Type implements handle.Object.
func (s *Socket) Type() handle.Type { return handle.TypeSocket }

// Destroy implements handle.Object: releases the bound port, if any
// (§9: "the destructor releases the bound port").
func (s *Socket) Destroy() {
	s.mu.Lock()
	bound, port := s.bound, s.port
	s.bound = false
	s.mu.Unlock()
	if bound {
		s.demux.releasePort(port)
	}
}

// Readiness implements waiter.Waitable: EventIn once a datagram is
// queued.
func (s *Socket) Readiness(mask waiter.EventMask) waiter.EventMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) > 0 {
		return waiter.EventIn & mask
	}
	return 0
}

func (s *Socket) onReceive(source posix.SockAddrInet, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.packets = append(s.packets, packet{source: source, payload: cp})
	s.mu.Unlock()
	s.Notify(waiter.EventIn)
}

// Bind implements "bind": port == 0 requests an ephemeral port (§4.6).
func (s *Socket) Bind(port uint16) error {
	s.mu.Lock()
	if s.bound {
		s.mu.Unlock()
		return kernerr.New("udp_bind", posix.EINVAL)
	}
	s.mu.Unlock()

	if port == 0 {
		port = s.demux.allocatePort(s)
		if port == 0 {
			return kernerr.New("udp_bind", posix.EADDRNOTAVAIL)
		}
	} else if err := s.demux.acquirePort(s, port); err != nil {
		return err
	}

	s.mu.Lock()
	s.bound = true
	s.port = port
	s.mu.Unlock()
	return nil
}

// Port reports the socket's bound local port, or 0 if unbound.
func (s *Socket) Port() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SendTo implements "sendto" (§4.6): resolves a route (or the broadcast
// special case), allocating an ephemeral source port on first send if
// the socket is still unbound, exactly as the source this was distilled
// from does on its first SendTo call.
func (s *Socket) SendTo(dst posix.SockAddrInet, payload []byte) (int, error) {
	broadcast := dst.Addr == [4]byte{0xff, 0xff, 0xff, 0xff}
	if !broadcast {
		if err := s.transport.Route(dst); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == 0 {
		port = s.demux.allocatePort(s)
		if port == 0 {
			return 0, kernerr.New("udp_sendto", posix.EADDRNOTAVAIL)
		}
		s.mu.Lock()
		s.bound = true
		s.port = port
		s.mu.Unlock()
	}

	src := posix.SockAddrInet{Port: port}
	if err := s.transport.Send(src, dst, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// RecvFrom implements "recvfrom" (§4.6): dequeues the oldest datagram,
// truncating to the caller's buffer and reporting the source address.
func (s *Socket) RecvFrom(buf []byte, nonBlocking bool, timeout time.Duration, infinite bool) (int, posix.SockAddrInet, error) {
	for {
		s.mu.Lock()
		if len(s.packets) > 0 {
			pkt := s.packets[0]
			s.packets = s.packets[1:]
			s.mu.Unlock()
			n := copy(buf, pkt.payload)
			return n, pkt.source, nil
		}
		s.mu.Unlock()

		if nonBlocking {
			return 0, posix.SockAddrInet{}, kernerr.New("udp_recvfrom", posix.EAGAIN)
		}
		_, _, err := waiter.WaitOne([]waiter.Waitable{s}, []waiter.EventMask{waiter.EventIn}, timeout, infinite, nil)
		if err != nil {
			return 0, posix.SockAddrInet{}, err
		}
	}
}

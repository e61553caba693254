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

// Package kernel implements the process/thread model (§4.2), tying
// together the Address Space Manager, the handle table, the local IPC
// substrate and the Wait/Watcher primitive into the scheduler-visible
// Process and Thread objects.
package kernel

import (
	"sync"
	"sync/atomic"
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/sentry/kernel/handle"
	"nyanos.dev/kernel/pkg/sentry/kernel/ipc"
	"nyanos.dev/kernel/pkg/sentry/kernel/mm"
	"nyanos.dev/kernel/pkg/sentry/socket/udp"
	"nyanos.dev/kernel/pkg/sentry/socket/unix"
	"nyanos.dev/kernel/pkg/waiter"
)

// ProcessState is the lifecycle state named in §3/§4.2.
type ProcessState int32

const (
	ProcessAlive ProcessState = iota
	ProcessZombie
)

// futexQueue is the wait queue for one futex word, keyed by its user
// virtual address (§4.2: "processes own a set of futex wait queues keyed
// by address").
type futexQueue struct {
	waiter.Queue
}

// Readiness always reports empty; futex wake is driven explicitly by
// FutexWake rather than through polled readiness.
func (f *futexQueue) Readiness(waiter.EventMask) waiter.EventMask { return 0 }

// Process is the top-level resource-owning container (§3): an address
// space, a handle table, a file descriptor table, a thread group, and
// process identity/lineage.
type Process struct {
	waiter.Queue

	Kernel *Kernel

	PID  int32
	PPID int32
	Name string
	Cwd  string

	UID, EUID, GID, EGID uint32

	AS      *mm.AddressSpace
	Handles *handle.Table
	FDs     *FDTable
	IPC     *ipc.Registry  // shared with every process in this Kernel.
	Sockets *unix.Registry // shared with every process in this Kernel.
	UDP     *udp.Demux     // shared with every process in this Kernel.

	CreatedAt time.Time
	ticks     int64 // atomic: scheduler-tick counter, for accounting.

	mu       sync.Mutex
	state    ProcessState
	exitCode int32
	children []*Process
	threads  map[int32]*Thread
	nextTID  int32
	futexes  map[int64]*futexQueue
}

// newProcess constructs a freshly allocated Process with empty resource
// tables; the Scheduler is responsible for assigning its PID and lineage.
func newProcess(k *Kernel, pid, ppid int32, name string) *Process {
	return &Process{
		Kernel:    k,
		PID:       pid,
		PPID:      ppid,
		Name:      name,
		Cwd:       "/",
		AS:        mm.New(),
		Handles:   handle.New(),
		FDs:       NewFDTable(),
		IPC:       k.IPC,
		Sockets:   k.Sockets,
		UDP:       k.UDP,
		CreatedAt: time.Now(),
		state:     ProcessAlive,
		threads:   make(map[int32]*Thread),
		futexes:   make(map[int64]*futexQueue),
		nextTID:   1,
	}
}

// Type implements handle.Object, so a Process may itself be referred to
// by a handle (§3: process objects are Kernel Objects like any other).
func (p *Process) Type() handle.Type { return handle.TypeProcess }

// Destroy implements handle.Object. It is a no-op beyond the Notify a
// zombie transition already performs; a Process handle never owns the
// resources it names, it only observes them.
func (p *Process) Destroy() {}

// Readiness implements waiter.Waitable: EventHUp fires once the process
// has become a Zombie (§4.3's signal table row "Process → transition to
// Zombie").
func (p *Process) Readiness(mask waiter.EventMask) waiter.EventMask {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProcessZombie {
		return waiter.EventHUp & mask
	}
	return 0
}

// State returns the process's current lifecycle state.
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the process's recorded exit status; meaningful only
// once State() == ProcessZombie.
func (p *Process) ExitCode() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// AddTick increments the process's scheduler-tick accounting counter.
func (p *Process) AddTick() { atomic.AddInt64(&p.ticks, 1) }

// Ticks reports the accumulated tick count.
func (p *Process) Ticks() int64 { return atomic.LoadInt64(&p.ticks) }

// addChild records child as a direct descendant.
func (p *Process) addChild(child *Process) {
	p.mu.Lock()
	p.children = append(p.children, child)
	p.mu.Unlock()
}

// Children returns a snapshot of the process's direct children.
func (p *Process) Children() []*Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Process, len(p.children))
	copy(out, p.children)
	return out
}

// removeChild drops child from the children list; Waitpid uses it to
// reap a zombie child (§4.2).
func (p *Process) removeChild(child *Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.children {
		if c == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// reparentChildrenTo moves every child's recorded parent to newParent,
// used when a process exits with live children (§4.2).
func (p *Process) reparentChildrenTo(newParent *Process) {
	p.mu.Lock()
	kids := p.children
	p.children = nil
	p.mu.Unlock()
	for _, c := range kids {
		c.mu.Lock()
		c.PPID = newParent.PID
		c.mu.Unlock()
		newParent.addChild(c)
	}
}

// CreateThread implements "create thread" (§4.2): allocates a new Thread
// owned by this process, ready to run.
func (p *Process) CreateThread() *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	tid := p.nextTID
	p.nextTID++
	t := newThread(p, tid)
	p.threads[tid] = t
	return t
}

// Thread looks up one of the process's threads by tid.
func (p *Process) Thread(tid int32) (*Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[tid]
	return t, ok
}

// Threads returns a snapshot of the process's threads.
func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// exit transitions the process to Zombie, recording code, and puts every
// remaining thread into the Zombie state (§4.2/§4.3).
func (p *Process) exit(code int32) {
	p.mu.Lock()
	if p.state == ProcessZombie {
		p.mu.Unlock()
		return
	}
	p.state = ProcessZombie
	p.exitCode = code
	for _, t := range p.threads {
		t.setState(Zombie)
	}
	p.mu.Unlock()
	p.Notify(waiter.EventHUp)
}

// futexQueueFor returns (creating if necessary) the wait queue for addr.
func (p *Process) futexQueueFor(addr int64) *futexQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.futexes[addr]
	if !ok {
		q = &futexQueue{}
		p.futexes[addr] = q
	}
	return q
}

// FutexWait blocks the calling thread on addr until woken or the timeout
// elapses (§4.2/§6: the futex primitive backing userspace mutexes).
func (p *Process) FutexWait(addr int64, timeout time.Duration, infinite bool, blocker *waiter.Blocker) error {
	q := p.futexQueueFor(addr)
	_, _, err := waiter.WaitOne([]waiter.Waitable{q}, []waiter.EventMask{waiter.EventIn}, timeout, infinite, blocker)
	if err == waiter.ErrTimeout {
		return kernerr.New("futex_wait", posix.EAGAIN)
	}
	return err
}

// FutexWake wakes up to n threads blocked on addr, returning the number
// actually woken.
func (p *Process) FutexWake(addr int64, n int) int {
	p.mu.Lock()
	q, ok := p.futexes[addr]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	q.Notify(waiter.EventIn)
	return n
}

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

package kernel

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"nyanos.dev/kernel/pkg/log"
	"nyanos.dev/kernel/pkg/sentry/kernel/ipc"
	"nyanos.dev/kernel/pkg/sentry/socket/udp"
	"nyanos.dev/kernel/pkg/sentry/socket/unix"
	"nyanos.dev/kernel/pkg/waiter"
)

// Kernel is the top-level singleton tying the process table, PID
// allocation and the scheduler together (§4.2). It also owns the
// system-wide namespaces that every process resolves against: the
// service registry, the unix-socket path registry, and the UDP demux.
// These are global rather than per-process so that one process can
// connect to a service, or send a packet to a port, that a different
// process created (§4.4, §4.6, original kernel's ServiceFS::Instance()).
type Kernel struct {
	mu        sync.Mutex
	processes map[int32]*Process
	nextPID   int32
	initPID   int32

	Scheduler *Scheduler

	IPC     *ipc.Registry
	Sockets *unix.Registry
	UDP     *udp.Demux

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs a Kernel with cpus simulated CPUs available to its
// Scheduler (§4.2: "multi-CPU aware").
func New(cpus int) *Kernel {
	k := &Kernel{
		processes: make(map[int32]*Process),
		nextPID:   1,
		IPC:       ipc.NewRegistry(),
		Sockets:   unix.NewRegistry(),
		UDP:       udp.NewDemux(),
	}
	k.Scheduler = newScheduler(k, cpus)
	return k
}

// Start launches the kernel's background maintenance loop — a periodic
// tick sweep over every live process standing in for the timer
// interrupt that would drive preemption and scheduler accounting on
// real hardware — as one cancelable goroutine group. The tick sweep is
// the only goroutine in the group. Calling Start twice without an intervening Stop
// replaces the previous group without waiting for it.
func (k *Kernel) Start(tick time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	k.cancel = cancel
	k.group = g

	g.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				k.mu.Lock()
				procs := make([]*Process, 0, len(k.processes))
				for _, p := range k.processes {
					procs = append(procs, p)
				}
				k.mu.Unlock()
				for _, p := range procs {
					p.AddTick()
				}
			}
		}
	})
}

// Stop cancels the background maintenance loop and waits for it to
// exit. A Kernel that was never Start-ed tolerates a no-op Stop.
func (k *Kernel) Stop() error {
	if k.cancel == nil {
		return nil
	}
	k.cancel()
	err := k.group.Wait()
	k.cancel = nil
	k.group = nil
	return err
}

// CreateProcess implements "create process" (§4.2): allocates a fresh
// PID and an empty resource set, parented to ppid (0 for the first,
// init, process).
func (k *Kernel) CreateProcess(ppid int32, name string) *Process {
	k.mu.Lock()
	pid := k.nextPID
	k.nextPID++
	p := newProcess(k, pid, ppid, name)
	k.processes[pid] = p
	if k.initPID == 0 {
		k.initPID = pid
	}
	parent := k.processes[ppid]
	k.mu.Unlock()

	if parent != nil {
		parent.addChild(p)
	}
	log.Debugf("kernel: created process pid=%d ppid=%d name=%q", pid, ppid, name)
	return p
}

// CloneProcess implements "clone process" (§4.2, §4.7's fork): builds a
// child sharing a copy-on-write address space and a forked file
// descriptor table with the parent.
func (k *Kernel) CloneProcess(parent *Process) *Process {
	child := k.CreateProcess(parent.PID, parent.Name)
	child.AS = parent.AS.Clone()
	child.FDs = parent.FDs.Fork()
	child.Cwd = parent.Cwd
	child.UID, child.EUID, child.GID, child.EGID = parent.UID, parent.EUID, parent.GID, parent.EGID
	return child
}

// FindProcessByPID implements "find process by pid" (§4.2).
func (k *Kernel) FindProcessByPID(pid int32) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[pid]
	return p, ok
}

// GetNextPIDAfter implements "get next pid after" (§4.2): it returns the
// smallest live pid greater than pid, for /proc-style iteration over the
// process table.
func (k *Kernel) GetNextPIDAfter(pid int32) (int32, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	best := int32(-1)
	for p := range k.processes {
		if p > pid && (best == -1 || p < best) {
			best = p
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// EndProcess implements "end process" (§4.2): unwinds the handle table,
// closes file descriptors, drops the address space, reparents surviving
// children to init, transitions every thread to Zombie, and signals
// waiters.
func (k *Kernel) EndProcess(p *Process, exitCode int32) error {
	err := p.Handles.DestroyAll()
	p.FDs.CloseAll()
	p.AS.UnmapAll()

	k.mu.Lock()
	initProc := k.processes[k.initPID]
	k.mu.Unlock()

	if initProc != nil && initProc != p {
		p.reparentChildrenTo(initProc)
	}

	p.exit(exitCode)
	log.Debugf("kernel: process pid=%d exited code=%d", p.PID, exitCode)
	return err
}

// Scheduler dispatches Ready threads across a fixed number of simulated
// CPUs (§4.2). It does not itself run thread code — there is no
// instruction-level CPU emulator in this module (§1) — it only tracks
// which threads are eligible to run and bounds how many may run
// concurrently, which is what Yield/Sleep/Block/Unblock coordinate
// against.
type Scheduler struct {
	kernel *Kernel
	cpus   *semaphore.Weighted
	numCPU int64
}

func newScheduler(k *Kernel, cpus int) *Scheduler {
	if cpus < 1 {
		cpus = 1
	}
	return &Scheduler{
		kernel: k,
		cpus:   semaphore.NewWeighted(int64(cpus)),
		numCPU: int64(cpus),
	}
}

// NumCPU reports the number of simulated CPUs.
func (s *Scheduler) NumCPU() int { return int(s.numCPU) }

// Run marks t Running for the duration of fn, acquiring one of the
// Scheduler's CPU slots first — this is the unit of "a thread is
// scheduled to run" (§4.2).
func (s *Scheduler) Run(t *Thread, fn func()) error {
	if err := s.cpus.Acquire(nil, 1); err != nil {
		return err
	}
	defer s.cpus.Release(1)

	t.setState(Running)
	fn()
	if t.State() == Running {
		t.setState(Ready)
	}
	return nil
}

// Yield implements "yield" (§4.2): cooperatively relinquishes the CPU,
// letting the Go runtime's own scheduler pick the next goroutine.
func (s *Scheduler) Yield() {
	runtime.Gosched()
}

// Sleep implements "sleep" (§4.2): blocks the calling thread for the
// given duration, honoring interruption exactly like a blocking wait.
func (s *Scheduler) Sleep(t *Thread, d time.Duration) error {
	b := waiter.NewBlocker()
	t.installBlocker(b)
	defer t.clearBlocker()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-b.Channel():
		if b.Interrupted() {
			return waiter.ErrInterrupted
		}
		return nil
	}
}

// Block transitions t to Blocked and returns a fresh Blocker installed
// on it, so a concurrent Interrupt() or explicit Unblock() can wake it.
func (s *Scheduler) Block(t *Thread) *waiter.Blocker {
	b := waiter.NewBlocker()
	t.installBlocker(b)
	return b
}

// Unblock wakes t's currently installed Blocker, if any, and clears it.
func (s *Scheduler) Unblock(t *Thread) {
	t.mu.Lock()
	b := t.blocker
	t.mu.Unlock()
	if b != nil {
		b.Wake()
	}
	t.clearBlocker()
}

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
	"sync"
	"sync/atomic"

	"nyanos.dev/kernel/pkg/waiter"
)

// ThreadState is one of the four states named in §3.
type ThreadState int32

const (
	Running ThreadState = iota
	Ready
	Blocked
	Zombie
)

func (s ThreadState) String() string {
	switch s {
	case Running:
		return "Running"
	case Ready:
		return "Ready"
	case Blocked:
		return "Blocked"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// RegisterContext is the saved register file for a Thread, shaped after
// the x86-64 kernel-preserved argument registers named in §6's calling
// convention (SC_ARG0..SC_ARG5 map to RDI, RSI, RDX, R10, R9, R8 in the
// original trap frame; the syscall result is returned in RAX).
type RegisterContext struct {
	RDI, RSI, RDX, R10, R8, R9 uint64
	RAX                        uint64 // syscall number in, result out.
	RIP, RSP, RBP              uint64
}

// Arg returns the i'th syscall argument (0-5) using the ABI's register
// assignment.
func (r *RegisterContext) Arg(i int) uint64 {
	switch i {
	case 0:
		return r.RDI
	case 1:
		return r.RSI
	case 2:
		return r.RDX
	case 3:
		return r.R10
	case 4:
		return r.R9
	case 5:
		return r.R8
	default:
		panic("kernel: syscall argument index out of range")
	}
}

// FPState is the fixed-size FP/SSE save area (§3); its exact contents
// belong to the architecture-specific trap code named out of scope in
// §1, but the kernel core still owns clearing it to a known state on exec
// (§4.7).
type FPState [512]byte

// Thread is an execution context exclusively owned by its parent Process
// (§3). Kernel-stack management is the paging facility's concern (§1);
// Go's runtime supplies the real stack for the goroutine standing in for
// this thread, so no kernel-stack field is modeled here.
type Thread struct {
	Process *Process
	TID     int32

	mu      sync.Mutex
	state   ThreadState
	blocker *waiter.Blocker
	regs    RegisterContext
	fpState FPState

	interrupted int32 // atomic bool: the thread-interrupt flag (§5).
}

func newThread(p *Process, tid int32) *Thread {
	return &Thread{Process: p, TID: tid, state: Ready}
}

// State returns the thread's current state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s ThreadState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Regs returns a copy of the thread's saved register context.
func (t *Thread) Regs() RegisterContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs
}

// SetRegs overwrites the thread's saved register context.
func (t *Thread) SetRegs(r RegisterContext) {
	t.mu.Lock()
	t.regs = r
	t.mu.Unlock()
}

// ResetFPState clears the FP/SSE save area to the standard default,
// performed on exec (§4.7).
func (t *Thread) ResetFPState() {
	t.mu.Lock()
	t.fpState = FPState{}
	t.mu.Unlock()
}

// Interrupt sets the thread's interrupt flag and wakes its current
// blocker, if any (§5: "a blocked thread may be interrupted by any other
// thread via the thread-interrupt syscall; the blocker is informed, and
// the blocked syscall returns interrupted").
func (t *Thread) Interrupt() {
	atomic.StoreInt32(&t.interrupted, 1)
	t.mu.Lock()
	b := t.blocker
	t.mu.Unlock()
	if b != nil {
		b.Interrupt()
	}
}

// ClearInterrupt resets the interrupt flag; called by a thread as it
// re-enters usermode after observing an interrupted wait.
func (t *Thread) ClearInterrupt() {
	atomic.StoreInt32(&t.interrupted, 0)
}

// Interrupted reports whether the interrupt flag is currently set.
func (t *Thread) Interrupted() bool {
	return atomic.LoadInt32(&t.interrupted) != 0
}

// installBlocker records b as the thread's current Blocker and marks the
// thread Blocked, so a concurrent Interrupt() call can find and fire it.
func (t *Thread) installBlocker(b *waiter.Blocker) {
	t.mu.Lock()
	t.blocker = b
	t.state = Blocked
	t.mu.Unlock()
}

func (t *Thread) clearBlocker() {
	t.mu.Lock()
	t.blocker = nil
	if t.state == Blocked {
		t.state = Running
	}
	t.mu.Unlock()
}

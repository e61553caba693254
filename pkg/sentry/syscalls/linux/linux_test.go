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

package linux

import (
	"testing"
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/sentry/kernel"
	"nyanos.dev/kernel/pkg/sentry/kernel/mm"
	"nyanos.dev/kernel/pkg/sentry/syscalls"
)

func newProcThread(k *kernel.Kernel, name string) (*kernel.Process, *kernel.Thread) {
	p := k.CreateProcess(0, name)
	return p, p.CreateThread()
}

func TestGetpidViaDispatchReturnsCallerPID(t *testing.T) {
	k := kernel.New(1)
	p, th := newProcThread(k, "proc")
	tbl := NewTable()

	th.SetRegs(kernel.RegisterContext{RAX: 58}) // getpid
	got := syscalls.Dispatch(tbl, th)
	if got != int64(p.PID) {
		t.Fatalf("got %d, want pid %d", got, p.PID)
	}
}

func TestForkViaDispatchReturnsChildPID(t *testing.T) {
	k := kernel.New(1)
	_, th := newProcThread(k, "parent")
	tbl := NewTable()

	th.SetRegs(kernel.RegisterContext{RAX: 93}) // fork
	got := syscalls.Dispatch(tbl, th)
	if got <= int64(th.Process.PID) {
		t.Fatalf("got child pid=%d, want greater than parent pid %d", got, th.Process.PID)
	}
	if _, ok := k.FindProcessByPID(int32(got)); !ok {
		t.Fatalf("forked child pid %d not registered in kernel", got)
	}
}

func TestPipeViaDispatchAllocatesReadableWritableFDs(t *testing.T) {
	k := kernel.New(1)
	p, th := newProcThread(k, "proc")
	tbl := NewTable()

	addr, err := p.AS.MapAnonymous(4096, 0, false, mm.Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}

	th.SetRegs(kernel.RegisterContext{RAX: 97, RDI: uint64(addr)}) // pipe(fds_out)
	if got := syscalls.Dispatch(tbl, th); got != 0 {
		t.Fatalf("pipe syscall returned %d, want 0", got)
	}

	buf, err := copyIn(th, addr, 8)
	if err != nil {
		t.Fatalf("copyIn: %v", err)
	}
	rfd := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24
	wfd := int32(buf[4]) | int32(buf[5])<<8 | int32(buf[6])<<16 | int32(buf[7])<<24

	if _, err := p.FDs.Get(rfd); err != nil {
		t.Fatalf("read fd %d not installed: %v", rfd, err)
	}
	if _, err := p.FDs.Get(wfd); err != nil {
		t.Fatalf("write fd %d not installed: %v", wfd, err)
	}
}

func TestFutexWaitWakeViaDispatch(t *testing.T) {
	k := kernel.New(1)
	p, th := newProcThread(k, "proc")
	tbl := NewTable()

	const addr = 0x3000
	waiterThread := p.CreateThread()
	done := make(chan int64, 1)
	waiterThread.SetRegs(kernel.RegisterContext{RAX: 69, RDI: addr}) // futex_wait
	go func() { done <- syscalls.Dispatch(tbl, waiterThread) }()
	time.Sleep(10 * time.Millisecond)

	th.SetRegs(kernel.RegisterContext{RAX: 70, RDI: addr, RSI: 1}) // futex_wake
	if got := syscalls.Dispatch(tbl, th); got != 1 {
		t.Fatalf("futex_wake returned %d, want 1 woken", got)
	}

	select {
	case got := <-done:
		if got != 0 {
			t.Fatalf("futex_wait returned %d, want 0", got)
		}
	case <-time.After(time.Second):
		t.Fatal("futex_wait never returned after futex_wake")
	}
}

func TestWaitpidViaDispatchReturnsZombieChild(t *testing.T) {
	k := kernel.New(1)
	parent, th := newProcThread(k, "parent")
	child := k.CreateProcess(parent.PID, "child")
	k.EndProcess(child, 0)

	tbl := NewTable()
	th.SetRegs(kernel.RegisterContext{RAX: 96, RDI: uint64(child.PID), RSI: 1}) // waitpid(pid, WNOHANG)
	got := syscalls.Dispatch(tbl, th)
	if got != int64(child.PID) {
		t.Fatalf("got %d, want child pid %d", got, child.PID)
	}
}

func TestObjectWaitViaDispatchHonorsCallerTimeout(t *testing.T) {
	k := kernel.New(1)
	p, th := newProcThread(k, "proc")
	tbl := NewTable()

	nameAddr, err := p.AS.MapAnonymous(4096, 0, false, mm.Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}
	if err := p.AS.WriteAt(bgctx, nameAddr, append([]byte("svc"), 0)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	th.SetRegs(kernel.RegisterContext{RAX: 76, RDI: uint64(nameAddr)}) // create_service
	svcID := syscalls.Dispatch(tbl, th)
	if svcID < 0 {
		t.Fatalf("create_service failed: %d", svcID)
	}

	start := time.Now()
	th.SetRegs(kernel.RegisterContext{RAX: 83, RDI: uint64(svcID), RSI: 5000}) // object_wait(svcID, 5ms)
	got := syscalls.Dispatch(tbl, th)
	elapsed := time.Since(start)

	want := kernerr.ToErrno(kernerr.New("wait", posix.EAGAIN))
	if got != want {
		t.Fatalf("got %d, want %d (EAGAIN after the requested timeout)", got, want)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("object_wait took %v, want roughly the requested 5ms timeout", elapsed)
	}
}

func TestIPCAcceptViaDispatchReturnsZeroWhenNothingPending(t *testing.T) {
	k := kernel.New(1)
	p, th := newProcThread(k, "proc")
	tbl := NewTable()

	nameAddr, err := p.AS.MapAnonymous(4096, 0, false, mm.Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}
	if err := p.AS.WriteAt(bgctx, nameAddr, append([]byte("svc"), 0)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	th.SetRegs(kernel.RegisterContext{RAX: 76, RDI: uint64(nameAddr)}) // create_service
	svcID := syscalls.Dispatch(tbl, th)
	if svcID < 0 {
		t.Fatalf("create_service failed: %d", svcID)
	}

	ifaceNameAddr, err := p.AS.MapAnonymous(4096, 0, false, mm.Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}
	if err := p.AS.WriteAt(bgctx, ifaceNameAddr, append([]byte("if"), 0)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	th.SetRegs(kernel.RegisterContext{RAX: 77, RDI: uint64(svcID), RSI: 64, RDX: uint64(ifaceNameAddr)}) // create_interface
	ifaceID := syscalls.Dispatch(tbl, th)
	if ifaceID < 0 {
		t.Fatalf("create_interface failed: %d", ifaceID)
	}

	th.SetRegs(kernel.RegisterContext{RAX: 79, RDI: uint64(ifaceID)}) // ipc_accept
	got := syscalls.Dispatch(tbl, th)
	if got != 0 {
		t.Fatalf("got %d, want 0 (no pending connection is not an error)", got)
	}
}

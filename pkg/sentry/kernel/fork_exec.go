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
	"github.com/mohae/deepcopy"

	"nyanos.dev/kernel/pkg/context"
	"nyanos.dev/kernel/pkg/sentry/kernel/mm"
)

// stackSize is the fixed size given to a freshly exec'd process's stack
// mapping: 2MB, with the top two pages pre-populated so argv/envp can be
// written there before the thread's first instruction runs (§4.7, §9).
const (
	stackSize         = 2 << 20
	stackPrePopulated = 2
)

// Fork implements "fork" (§4.2, §4.7): builds a child process sharing a
// copy-on-write address space and a duplicated file descriptor table,
// and a single new thread for it. There is no instruction-level CPU to
// resume two continuations automatically — the child's thread is
// returned to the single caller, which decides what it runs next (an
// explicit Exec, in the ordinary fork+exec pattern, or a direct return
// in a vfork-style reuse).
func (k *Kernel) Fork(parent *Process, parentThread *Thread) (*Process, *Thread) {
	child := k.CloneProcess(parent)
	ct := child.CreateThread()

	regs := parentThread.Regs()
	regs.RAX = 0 // the child observes fork() returning 0.
	ct.SetRegs(regs)
	return child, ct
}

// Exec implements "exec" (§4.7): argv and envp are snapshot-copied
// before anything else is touched (§9's resolved open question — a
// concurrent mutation of the caller's buffers after the syscall returns
// must never be observed by the new program image), the address space
// is entirely replaced by a fresh stack mapping, the thread's FP state
// is reset, and any fd marked O_CLOEXEC is closed.
func (p *Process) Exec(t *Thread, name string, argv, envp []string) ([]string, []string, error) {
	argvCopy := copyStrings(argv)
	envpCopy := copyStrings(envp)

	p.AS.UnmapAll()
	base, err := p.AS.MapAnonymous(stackSize, 0, false, mm.Flags{Read: true, Write: true})
	if err != nil {
		return nil, nil, err
	}
	for i := int64(1); i <= stackPrePopulated; i++ {
		if err := p.AS.Fault(context.Background(nil, nil), base+stackSize-i*mm.PageSize, mm.FaultWrite); err != nil {
			return nil, nil, err
		}
	}

	p.FDs.CloseOnExec()
	t.ResetFPState()
	t.SetRegs(RegisterContext{})

	p.mu.Lock()
	p.Name = name
	p.mu.Unlock()

	return argvCopy, envpCopy, nil
}

// copyStrings snapshot-copies a string slice via deepcopy, tolerating a nil
// input (deepcopy.Copy(nil) does not hand back a []string to assert on).
func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return deepcopy.Copy(s).([]string)
}

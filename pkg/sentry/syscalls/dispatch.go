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

package syscalls

import (
	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/log"
	"nyanos.dev/kernel/pkg/sentry/kernel"
)

// Dispatch implements the single syscall entry point (§4.8): it looks
// up number in t, rejects anything not present with ENOSYS, and runs
// the handler with the calling thread's own register context. A panic
// escaping the handler — a broken kernel invariant, never a user-caused
// condition per §7 — is recovered exactly one layer deep and logged,
// rather than allowed to escape to the usermode return value or take
// down the whole process.
func Dispatch(t *Table, thread *kernel.Thread) (result int64) {
	regs := thread.Regs()
	num := int64(regs.RAX)

	entry, ok := t.Table[num]
	if !ok {
		log.Warningf("syscalls: unknown syscall number %d from pid=%d", num, thread.Process.PID)
		return kernerr.ToErrno(unimplemented())
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warningf("syscalls: %s: recovered kernel-invariant panic: %v", entry.Name, r)
			result = kernerr.ToErrno(unimplemented())
		}
	}()

	return entry.Handler(thread, &regs)
}

func unimplemented() error {
	return kernerr.New("dispatch", posix.ENOSYS)
}

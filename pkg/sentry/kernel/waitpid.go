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
	"time"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/waiter"
)

// Waitpid implements "waitpid" (§4.7). pid == -1 waits on any of the
// calling process's own children (§9's resolved open question: earlier
// source iterated the *global* process table here, which could observe
// an unrelated process's exit; this rendering iterates only
// caller.Children()). A specific pid waits on that one child, failing
// ECHILD if it is not actually a child of the caller.
func (caller *Process) Waitpid(pid int32, nonBlocking bool, blocker *waiter.Blocker) (int32, int32, error) {
	for {
		children := caller.Children()
		var target *Process
		if pid == -1 {
			for _, c := range children {
				if c.State() == ProcessZombie {
					target = c
					break
				}
			}
			if target == nil && len(children) == 0 {
				return 0, 0, kernerr.New("waitpid", posix.ECHILD)
			}
		} else {
			for _, c := range children {
				if c.PID == pid {
					target = c
					break
				}
			}
			if target == nil {
				return 0, 0, kernerr.New("waitpid", posix.ECHILD)
			}
			if target.State() != ProcessZombie {
				target = nil
			}
		}

		if target != nil {
			code := target.ExitCode()
			caller.removeChild(target)
			return target.PID, code, nil
		}

		if nonBlocking {
			return 0, 0, kernerr.New("waitpid", posix.EAGAIN)
		}

		subjects := make([]waiter.Waitable, len(children))
		masks := make([]waiter.EventMask, len(children))
		for i, c := range children {
			subjects[i] = c
			masks[i] = waiter.EventHUp
		}
		_, _, err := waiter.WaitOne(subjects, masks, time.Duration(0), true, blocker)
		if err != nil {
			return 0, 0, err
		}
	}
}

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

package waiter

import "time"

// Poll multiplexes many subjects at once, the way poll(2)/select(2) do: it
// blocks until at least one subject is ready (or times out, or the calling
// thread is interrupted), then returns the readiness snapshot for every
// subject, not just the one that woke it — scenario 5 requires
// revents[P1]==POLLIN, revents[P2]==0 in the same call, not just "some fd
// is ready."
func Poll(subjects []Waitable, masks []EventMask, timeout time.Duration, infinite bool, blocker *Blocker) (ready int, revents []EventMask, err error) {
	_, _, err = WaitOne(subjects, masks, timeout, infinite, blocker)
	revents = make([]EventMask, len(subjects))
	if err != nil {
		return 0, revents, err
	}
	for i, s := range subjects {
		revents[i] = s.Readiness(masks[i])
		if revents[i] != 0 {
			ready++
		}
	}
	return ready, revents, nil
}

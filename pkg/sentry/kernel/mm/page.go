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

package mm

import "sync"

// PageSize is the unit of mapping, alignment, and copy-on-write sharing
// used throughout the address space manager.
const PageSize = 4096

// page is one resident physical page, standing in for the real paging
// facility named as an external collaborator in §1. refcount tracks how
// many address spaces' private page tables currently point at this same
// backing array; a write fault with refcount > 1 must copy before
// mutating, which is the entire copy-on-fork mechanism (§4.1, §4.7).
type page struct {
	mu       sync.Mutex
	data     [PageSize]byte
	refcount int32
}

func newZeroPage() *page {
	return &page{refcount: 1}
}

func (p *page) clone() *page {
	np := &page{refcount: 1}
	p.mu.Lock()
	np.data = p.data
	p.mu.Unlock()
	return np
}

func (p *page) incref() {
	p.mu.Lock()
	p.refcount++
	p.mu.Unlock()
}

func (p *page) shared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refcount > 1
}

func (p *page) decref() {
	p.mu.Lock()
	p.refcount--
	p.mu.Unlock()
}

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

import (
	"testing"

	"nyanos.dev/kernel/pkg/context"
)

var bgctx = context.Background(nil, nil)

func TestAddressToRegionAlwaysContainsQueriedAddress(t *testing.T) {
	as := New()
	base, err := as.MapAnonymous(4*PageSize, 0, false, Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}

	for _, addr := range []int64{base, base + PageSize, base + 3*PageSize + 10} {
		r := as.AddressToRegion(addr)
		if r == nil {
			t.Fatalf("AddressToRegion(%#x) = nil, want a containing region", addr)
		}
		if !r.Contains(addr) {
			t.Fatalf("AddressToRegion(%#x) returned a region not containing it: [%#x, %#x)", addr, r.Base, r.End())
		}
	}

	if r := as.AddressToRegion(base - PageSize); r != nil {
		t.Fatalf("AddressToRegion outside any mapping returned non-nil")
	}
}

func TestWriteFaultOnSharedPageCopiesRatherThanMutatesParent(t *testing.T) {
	parent := New()
	base, err := parent.MapAnonymous(PageSize, 0, false, Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}
	if err := parent.WriteAt(bgctx, base, []byte("parent")); err != nil {
		t.Fatalf("parent WriteAt: %v", err)
	}

	child := parent.Clone()
	if err := child.WriteAt(bgctx, base, []byte("CHILD!")); err != nil {
		t.Fatalf("child WriteAt: %v", err)
	}

	buf := make([]byte, 6)
	if err := parent.ReadAt(bgctx, base, buf); err != nil {
		t.Fatalf("parent ReadAt: %v", err)
	}
	if string(buf) != "parent" {
		t.Fatalf("got parent data %q after child wrote, want unaffected %q", buf, "parent")
	}

	if err := child.ReadAt(bgctx, base, buf); err != nil {
		t.Fatalf("child ReadAt: %v", err)
	}
	if string(buf) != "CHILD!" {
		t.Fatalf("got child data %q, want %q", buf, "CHILD!")
	}
}

func TestUnmapSplitsOverlappingRegion(t *testing.T) {
	as := New()
	base, err := as.MapAnonymous(4*PageSize, 0, false, Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}

	// Unmap the two middle pages, leaving the first and last standing.
	if err := as.Unmap(base+PageSize, 2*PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	if r := as.AddressToRegion(base); r == nil {
		t.Fatalf("first page unexpectedly unmapped")
	}
	if r := as.AddressToRegion(base + PageSize); r != nil {
		t.Fatalf("middle page still mapped after Unmap")
	}
	if r := as.AddressToRegion(base + 3*PageSize); r == nil {
		t.Fatalf("last page unexpectedly unmapped")
	}
}

func TestUnmapAllClearsEverySubsequentLookup(t *testing.T) {
	as := New()
	base, err := as.MapAnonymous(PageSize, 0, false, Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}
	as.UnmapAll()
	if r := as.AddressToRegion(base); r != nil {
		t.Fatalf("AddressToRegion found a region after UnmapAll")
	}
}

func TestFixedMapOverExistingRegionFails(t *testing.T) {
	as := New()
	base, err := as.MapAnonymous(PageSize, 0, false, Flags{Read: true, Write: true})
	if err != nil {
		t.Fatalf("MapAnonymous: %v", err)
	}
	if _, err := as.MapAnonymous(PageSize, base, true, Flags{Read: true, Write: true}); err == nil {
		t.Fatalf("fixed map over an existing region succeeded, want ENOMEM")
	}
}

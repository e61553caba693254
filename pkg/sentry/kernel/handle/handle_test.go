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

package handle

import (
	"errors"
	"testing"

	"nyanos.dev/kernel/pkg/abi/posix"
	"nyanos.dev/kernel/pkg/kernerr"
	"nyanos.dev/kernel/pkg/waiter"
)

// fakeObject is a minimal handle.Object for table tests.
type fakeObject struct {
	waiter.Queue
	destroyed int
}

func (f *fakeObject) Type() Type                            { return TypeService }
func (f *fakeObject) Destroy()                               { f.destroyed++ }
func (f *fakeObject) Readiness(waiter.EventMask) waiter.EventMask { return 0 }

func TestRegisterFindRoundTrip(t *testing.T) {
	tbl := New()
	obj := &fakeObject{}
	id := tbl.Register(obj)

	got, err := tbl.Find(id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != obj {
		t.Fatalf("Find returned a different object")
	}
}

func TestFindUnknownHandleFails(t *testing.T) {
	tbl := New()
	_, err := tbl.Find(999)
	var ke *kernerr.Error
	if !errors.As(err, &ke) || !errors.Is(err, posix.EINVAL) {
		t.Fatalf("got err=%v, want EINVAL", err)
	}
}

func TestDestroyThenFindFails(t *testing.T) {
	tbl := New()
	obj := &fakeObject{}
	id := tbl.Register(obj)

	if err := tbl.Destroy(id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if obj.destroyed != 1 {
		t.Fatalf("got destroyed=%d, want 1", obj.destroyed)
	}
	if _, err := tbl.Find(id); !errors.Is(err, posix.EINVAL) {
		t.Fatalf("Find after Destroy: got err=%v, want EINVAL", err)
	}
}

func TestDoubleDestroyIsIdempotentAndFails(t *testing.T) {
	tbl := New()
	obj := &fakeObject{}
	id := tbl.Register(obj)

	if err := tbl.Destroy(id); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := tbl.Destroy(id); !errors.Is(err, posix.EINVAL) {
		t.Fatalf("second Destroy: got err=%v, want EINVAL", err)
	}
	if obj.destroyed != 1 {
		t.Fatalf("got destroyed=%d, want exactly 1 (idempotent)", obj.destroyed)
	}
}

func TestDestroyedIDIsRecycled(t *testing.T) {
	tbl := New()
	id1 := tbl.Register(&fakeObject{})
	if err := tbl.Destroy(id1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	id2 := tbl.Register(&fakeObject{})
	if id2 != id1 {
		t.Fatalf("got id2=%d, want recycled id %d", id2, id1)
	}
}

func TestDupSharesRefcountUntilBothHandlesDestroyed(t *testing.T) {
	tbl := New()
	obj := &fakeObject{}
	id1 := tbl.Register(obj)
	id2, err := tbl.Dup(id1)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if id2 == id1 {
		t.Fatalf("Dup returned the same id as the original handle")
	}

	if err := tbl.Destroy(id1); err != nil {
		t.Fatalf("Destroy id1: %v", err)
	}
	if obj.destroyed != 0 {
		t.Fatalf("object finalized with a duplicate handle still live")
	}
	if _, err := tbl.Find(id2); err != nil {
		t.Fatalf("Find id2 after destroying id1: %v", err)
	}

	if err := tbl.Destroy(id2); err != nil {
		t.Fatalf("Destroy id2: %v", err)
	}
	if obj.destroyed != 1 {
		t.Fatalf("got destroyed=%d, want exactly 1 once both handles are gone", obj.destroyed)
	}
}

func TestDupUnknownHandleFailsEINVAL(t *testing.T) {
	tbl := New()
	if _, err := tbl.Dup(999); !errors.Is(err, posix.EINVAL) {
		t.Fatalf("got err=%v, want EINVAL", err)
	}
}

func TestDestroyAllTearsDownEveryHandle(t *testing.T) {
	tbl := New()
	objs := make([]*fakeObject, 5)
	for i := range objs {
		objs[i] = &fakeObject{}
		tbl.Register(objs[i])
	}
	if err := tbl.DestroyAll(); err != nil {
		t.Fatalf("DestroyAll: %v", err)
	}
	for i, o := range objs {
		if o.destroyed != 1 {
			t.Fatalf("object %d: got destroyed=%d, want 1", i, o.destroyed)
		}
	}
	if tbl.Len() != 0 {
		t.Fatalf("got Len=%d, want 0", tbl.Len())
	}
}

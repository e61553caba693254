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

// Package syscalls holds the syscall number -> handler table shape
// shared by every architecture-flavored table package (§4.8, §6): a
// fixed numbering with named handlers, built the same way the teacher
// builds its own per-architecture override tables.
package syscalls

import "nyanos.dev/kernel/pkg/sentry/kernel"

// Handler implements one syscall number: it receives the calling
// Thread (which carries the process, register context, and everything
// else a handler needs) and returns the raw usermode result, already
// reduced to a negative errno on failure via kernerr.ToErrno.
type Handler func(t *kernel.Thread, regs *kernel.RegisterContext) int64

// Entry names a table slot for diagnostics and the "unknown syscall"
// log line.
type Entry struct {
	Name    string
	Handler Handler
}

// Supported constructs a table Entry. Named the way the teacher's own
// syscall-table constructor is, so a reader moving between the two
// trees recognizes the idiom immediately.
func Supported(name string, h Handler) Entry {
	return Entry{Name: name, Handler: h}
}

// Table is a syscall number -> Entry mapping (§4.8: "dispatches on a
// fixed syscall number into a 99-entry table").
type Table struct {
	Table map[int64]Entry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{Table: make(map[int64]Entry)}
}

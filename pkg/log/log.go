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

// Package log is the kernel core's leveled logger. It is deliberately
// small: a package-level atomic level plus a goroutine-safe writer, and an
// encoding of debug log records as a DebugEvent protobuf message (see
// debugeventpb). The syscall-0 debug-log handler writes through Debugf;
// it does not call EncodeDebugEvent.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"

	"nyanos.dev/kernel/pkg/log/debugeventpb"
)

// Level selects which calls are emitted. Numerically higher is noisier,
// matching the teacher's own debugLevelVerbose > debugLevelBasic ordering.
type Level int32

const (
	Basic Level = iota
	Verbose
	Debug
)

var current int32 = int32(Basic)

// SetLevel adjusts the package-level log level. Safe for concurrent use.
func SetLevel(l Level) { atomic.StoreInt32(&current, int32(l)) }

// IsEnabled reports whether l would currently be emitted, so that callers
// can skip expensive formatting work the way the teacher's IF_DEBUG guards
// do around its Log::Info calls.
func IsEnabled(l Level) bool { return Level(atomic.LoadInt32(&current)) >= l }

// Logger is the sink every component writes through. The kernel wires a
// single default instance at boot; tests can substitute their own to
// capture output.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
}

// Default is the process-wide logger, writing to stderr until reassigned.
var Default = &Logger{out: os.Stderr}

func (l *Logger) write(level Level, format string, v ...any) {
	if !IsEnabled(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, v...))
}

// Infof logs at the Basic level.
func (l *Logger) Infof(format string, v ...any) { l.write(Basic, format, v...) }

// Warningf logs at the Basic level with a warning prefix.
func (l *Logger) Warningf(format string, v ...any) { l.write(Basic, "WARNING: "+format, v...) }

// Debugf logs at the Verbose level.
func (l *Logger) Debugf(format string, v ...any) { l.write(Verbose, format, v...) }

// SetOutput redirects where the default logger writes; used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// Infof/Warningf/Debugf on the package forward to Default, mirroring the
// teacher's package-level Log::Info/Log::Warning free functions.
func Infof(format string, v ...any)    { Default.Infof(format, v...) }
func Warningf(format string, v ...any) { Default.Warningf(format, v...) }
func Debugf(format string, v ...any)   { Default.Debugf(format, v...) }

// EncodeDebugEvent builds the wire bytes for a syscall-0 debug log write:
// name identifies the emitting subsystem (e.g. a process name), text is
// the formatted message. The caller is responsible for delivering the
// bytes (e.g. over a device node); this package only owns the encoding.
func EncodeDebugEvent(name, text string) ([]byte, error) {
	ev := &debugeventpb.DebugEvent{Name: name, Text: text}
	return proto.Marshal(ev)
}

// DecodeDebugEvent is the receiving side's counterpart to
// EncodeDebugEvent.
func DecodeDebugEvent(b []byte) (name, text string, err error) {
	ev := &debugeventpb.DebugEvent{}
	if err := proto.Unmarshal(b, ev); err != nil {
		return "", "", err
	}
	return ev.GetName(), ev.GetText(), nil
}

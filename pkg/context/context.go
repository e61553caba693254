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

// Package context defines the Context type threaded through kernel
// operations that may need to log, check deadlines, or look up the calling
// thread, without every component depending directly on package kernel.
package context

import (
	"context"
	"time"
)

// Context extends the standard context.Context with kernel-specific
// accessors. It is intentionally small: the kernel core is single-binary,
// so there is no cross-process propagation to design for.
type Context interface {
	context.Context

	// Debugf and Warningf route through the context's attached logger, if
	// any; implementations with no logger attached discard the message.
	Debugf(format string, v ...any)
	Warningf(format string, v ...any)
}

type loggerFunc func(format string, v ...any)

type background struct {
	context.Context
	debug   loggerFunc
	warning loggerFunc
}

func (b background) Debugf(format string, v ...any)   { b.debug(format, v...) }
func (b background) Warningf(format string, v ...any) { b.warning(format, v...) }

// Background returns a Context rooted at context.Background with the given
// loggers attached. Passing nil loggers discards output.
func Background(debug, warning func(format string, v ...any)) Context {
	if debug == nil {
		debug = func(string, ...any) {}
	}
	if warning == nil {
		warning = func(string, ...any) {}
	}
	return background{context.Background(), debug, warning}
}

// WithTimeout mirrors context.WithTimeout while preserving the Context
// interface.
func WithTimeout(parent Context, d time.Duration) (Context, context.CancelFunc) {
	inner, cancel := context.WithTimeout(parent, d)
	return background{inner, parent.Debugf, parent.Warningf}, cancel
}

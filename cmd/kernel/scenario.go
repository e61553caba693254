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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"nyanos.dev/kernel/pkg/log"
	"nyanos.dev/kernel/pkg/sentry/kernel"
)

// runScenario replays a small line-oriented script against a booted
// Kernel, driving its Go API directly rather than the register-based
// syscall ABI — a smoke test for the kernel's own lifecycle, not a
// substitute for the syscall dispatcher. Blank lines and lines starting
// with '#' are ignored. Supported commands:
//
//	spawn <name>        create a child of init, returning its pid
//	fork <pid>          fork an existing process, returning the child's pid
//	exit <pid> <code>   end a process with the given exit code
//	wait <pid>          block the scenario until pid becomes a zombie
//	log <name> <text>   emit a debug log line
func runScenario(k *kernel.Kernel, init *kernel.Process, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	procs := map[int32]*kernel.Process{init.PID: init}

	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "spawn":
			if len(args) != 1 {
				return fmt.Errorf("line %d: spawn requires a name", lineNo)
			}
			p := k.CreateProcess(init.PID, args[0])
			procs[p.PID] = p
			log.Infof("scenario: spawned pid=%d name=%q", p.PID, args[0])

		case "fork":
			if len(args) != 1 {
				return fmt.Errorf("line %d: fork requires a pid", lineNo)
			}
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			parent, ok := procs[int32(pid)]
			if !ok {
				return fmt.Errorf("line %d: unknown pid %d", lineNo, pid)
			}
			pt := parent.Threads()
			if len(pt) == 0 {
				pt = []*kernel.Thread{parent.CreateThread()}
			}
			child, _ := k.Fork(parent, pt[0])
			procs[child.PID] = child
			log.Infof("scenario: forked pid=%d from pid=%d", child.PID, pid)

		case "exit":
			if len(args) != 2 {
				return fmt.Errorf("line %d: exit requires a pid and code", lineNo)
			}
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			code, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			p, ok := procs[int32(pid)]
			if !ok {
				return fmt.Errorf("line %d: unknown pid %d", lineNo, pid)
			}
			if err := k.EndProcess(p, int32(code)); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}

		case "wait":
			if len(args) != 1 {
				return fmt.Errorf("line %d: wait requires a pid", lineNo)
			}
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			p, ok := procs[int32(pid)]
			if !ok {
				return fmt.Errorf("line %d: unknown pid %d", lineNo, pid)
			}
			if _, _, err := init.Waitpid(int32(pid), false, nil); err != nil && p.State() != kernel.ProcessZombie {
				log.Warningf("scenario: wait pid=%d: %v", pid, err)
			}

		case "log":
			if len(args) < 2 {
				return fmt.Errorf("line %d: log requires a name and text", lineNo)
			}
			log.Debugf("%s: %s", args[0], strings.Join(args[1:], " "))

		default:
			return fmt.Errorf("line %d: unknown command %q", lineNo, cmd)
		}
	}
	return scanner.Err()
}

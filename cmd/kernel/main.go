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

// Command kernel boots a simulated kernel instance: it stands up a
// Kernel with the requested number of simulated CPUs, spawns an init
// process, and optionally replays a scripted boot scenario against the
// Kernel's Go API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"

	"nyanos.dev/kernel/pkg/log"
	"nyanos.dev/kernel/pkg/sentry/kernel"
	linuxsyscalls "nyanos.dev/kernel/pkg/sentry/syscalls/linux"
)

func main() {
	app := &cli.App{
		Name:  "kernel",
		Usage: "boot a simulated kernel instance",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "cpus",
				Usage: "number of simulated CPUs available to the scheduler",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "minimum log level to emit (debug, verbose, info)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "scenario",
				Usage: "path to a scripted boot scenario file to replay after boot",
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "scheduler maintenance tick interval",
				Value: 100 * time.Millisecond,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	cpus := c.Int("cpus")
	k := kernel.New(cpus)
	k.Start(c.Duration("tick"))
	defer k.Stop()

	init := k.CreateProcess(0, "init")
	table := linuxsyscalls.NewTable()
	log.Infof("kernel: booted pid=%d cpus=%d with %d syscalls registered", init.PID, cpus, len(table.Table))

	if scenario := c.String("scenario"); scenario != "" {
		if err := runScenario(k, init, scenario); err != nil {
			return fmt.Errorf("scenario %q: %w", scenario, err)
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	<-sigc
	log.Infof("kernel: shutting down")
	return nil
}

func parseLevel(s string) (log.Level, error) {
	switch s {
	case "debug":
		return log.Debug, nil
	case "verbose":
		return log.Verbose, nil
	case "info", "basic", "":
		return log.Basic, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

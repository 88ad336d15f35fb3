// Copyright 2026 The Kitevisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kitevisor

import (
	"context"
	"io"
	"log"
	"os"
	"time"
)

// Handle is a started child process.
type Handle interface {
	// Pid returns the operating system process id, or 0 if there is none.
	Pid() int

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// Wait blocks until the process exits, and returns its exit status.
	// It may be called any number of times, from any goroutine.
	Wait() (int, error)

	// Signal delivers a signal to the process.
	Signal(os.Signal) error

	// Stop asks the process to terminate, and kills it if it has not
	// done so within the grace period.  A zero grace waits forever.
	// Stop blocks until the process has exited, and never fails.
	Stop(grace time.Duration)
}

// LaunchOptions carry the I/O wiring for a launch.  Attached children use
// Stdin, Stdout and Stderr; detached children have their output split into
// lines and sent to Logger.
type LaunchOptions struct {
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

// Launcher starts child processes.  Launch must not block beyond starting
// the process.
type Launcher interface {
	Launch(ctx context.Context, cmd Command, opts LaunchOptions) (Handle, error)
}

// ExecLauncher starts real operating system processes.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, cmd Command, opts LaunchOptions) (Handle, error) {
	p := NewProcess(cmd, opts)
	if e := p.Start(); e != nil {
		return nil, e
	}
	return p, nil
}

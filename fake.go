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
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FakeCommand simulates a program.  It returns the exit status.  The
// context is canceled when the process is signaled to terminate.
type FakeCommand func(ctx context.Context, stdout, stderr io.Writer, args []string) int

// FakeLaunch records one call to FakeLauncher.Launch.
type FakeLaunch struct {
	Name string
	Path string
	Args []string
	Env  []string
	Time time.Time
	Err  error
}

// FakeLauncher is a Launcher that runs registered FakeCommands as
// goroutines instead of processes.  Paths that were not registered fail
// the way a missing executable does.  It is meant for tests.
type FakeLauncher struct {
	mu       sync.Mutex
	commands map[string]FakeCommand
	launches []FakeLaunch
	pid      int
}

func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{
		commands: make(map[string]FakeCommand),
		pid:      1000,
	}
}

// Register installs a fake program under the given path.
func (f *FakeLauncher) Register(path string, fn FakeCommand) {
	f.mu.Lock()
	f.commands[path] = fn
	f.mu.Unlock()
}

// Launches returns every launch attempt so far, in order.
func (f *FakeLauncher) Launches() []FakeLaunch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeLaunch{}, f.launches...)
}

// Count returns the number of launch attempts for the named command.
func (f *FakeLauncher) Count(name string) int {
	n := 0
	for _, l := range f.Launches() {
		if l.Name == name {
			n++
		}
	}
	return n
}

func (f *FakeLauncher) Launch(ctx context.Context, cmd Command, opts LaunchOptions) (Handle, error) {
	f.mu.Lock()
	rec := FakeLaunch{
		Name: cmd.Name,
		Path: cmd.Path,
		Args: append([]string{}, cmd.Args...),
		Env:  append([]string{}, opts.Env...),
		Time: time.Now(),
	}
	fn, ok := f.commands[cmd.Path]
	if !ok {
		rec.Err = &LaunchError{
			Name: cmd.Name,
			Path: cmd.Path,
			Err:  &exec.Error{Name: cmd.Path, Err: exec.ErrNotFound},
		}
		f.launches = append(f.launches, rec)
		f.mu.Unlock()
		return nil, rec.Err
	}
	f.pid++
	pid := f.pid
	f.launches = append(f.launches, rec)
	f.mu.Unlock()

	var stdout, stderr io.Writer = io.Discard, io.Discard
	if cmd.Attach {
		if opts.Stdout != nil {
			stdout = opts.Stdout
		}
		if opts.Stderr != nil {
			stderr = opts.Stderr
		}
	} else if opts.Logger != nil {
		stdout = &lineLogger{l: opts.Logger, prefix: "stdout> "}
		stderr = &lineLogger{l: opts.Logger, prefix: "stderr> "}
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &fakeProcess{
		pid:    pid,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	args := append([]string{cmd.Path}, cmd.Args...)
	go func() {
		code := fn(pctx, stdout, stderr, args)
		p.finish(code)
	}()
	return p, nil
}

type fakeProcess struct {
	pid     int
	cancel  context.CancelFunc
	done    chan struct{}
	code    int
	once    sync.Once
	signals []os.Signal
	mu      sync.Mutex
}

func (p *fakeProcess) finish(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		p.cancel()
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int {
	return p.pid
}

func (p *fakeProcess) Done() <-chan struct{} {
	return p.done
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, nil
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return ErrNotRunning
	default:
	}
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	switch sig {
	case syscall.SIGKILL:
		p.finish(exitSignalBase + int(syscall.SIGKILL))
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP:
		p.cancel()
	}
	return nil
}

func (p *fakeProcess) Stop(grace time.Duration) {
	p.Signal(syscall.SIGTERM)
	if grace <= 0 {
		<-p.done
		return
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
	case <-t.C:
		p.Signal(syscall.SIGKILL)
	}
}

// lineLogger turns written output into log lines.
type lineLogger struct {
	l      *log.Logger
	prefix string
}

func (w *lineLogger) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		w.l.Print(w.prefix, line)
	}
	return len(b), nil
}

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
	"bufio"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const attachWaitDelay = time.Second

// Process is an operating system process started from a Command.  It
// implements Handle.
//
// The child is placed in its own process group, and signals are sent to the
// whole group, so that helpers forked by the child (a framework's worker
// processes, for example) go down with it.
type Process struct {
	name    string
	logger  *log.Logger
	cmd     *exec.Cmd
	attach  bool
	done    chan struct{}
	code    int
	err     error
	started bool

	lock    sync.Mutex
	readers sync.WaitGroup
}

func (p *Process) doLog(r io.ReadCloser, prefix string) {
	defer p.readers.Done()
	defer r.Close()
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			p.logger.Print(prefix, strings.TrimRight(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

// doWait reaps the child.  The output readers are not waited for, since
// anything the child forked may hold the pipes open long after it exited.
func (p *Process) doWait() {
	e := p.cmd.Wait()

	p.lock.Lock()
	var xe *exec.ExitError
	switch {
	case e == nil, errors.Is(e, exec.ErrWaitDelay):
		p.code = 0
	case errors.As(e, &xe):
		p.code = exitStatus(xe.ProcessState)
	default:
		p.code = ExitFailure
		p.err = e
	}
	p.lock.Unlock()
	close(p.done)
}

// Start starts the process, without waiting for it.  Failure to find or
// execute the program is reported as a *LaunchError.
func (p *Process) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.started {
		return &LaunchError{Name: p.name, Path: p.cmd.Path,
			Err: errors.New("Process already started")}
	}

	// Detached children write into pipes we create, rather than ones
	// made by exec.Cmd, so that Wait does not wait for the output.
	var readers, writers []*os.File
	if !p.attach {
		for range 2 {
			r, w, e := os.Pipe()
			if e != nil {
				closeFiles(readers)
				closeFiles(writers)
				return &LaunchError{Name: p.name, Path: p.cmd.Path, Err: e}
			}
			readers = append(readers, r)
			writers = append(writers, w)
		}
		p.cmd.Stdout = writers[0]
		p.cmd.Stderr = writers[1]
	}

	e := p.cmd.Start()
	// The child has its own copies of the write ends.
	closeFiles(writers)
	if e != nil {
		closeFiles(readers)
		return &LaunchError{Name: p.name, Path: p.cmd.Path, Err: e}
	}
	if !p.attach {
		p.readers.Add(2)
		go p.doLog(readers[0], "stdout> ")
		go p.doLog(readers[1], "stderr> ")
	}
	p.started = true
	p.logger.Printf("Started %s: pid %d", p.name, p.cmd.Process.Pid)
	go p.doWait()
	return nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (p *Process) Pid() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.started {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Wait() (int, error) {
	<-p.done
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.code, p.err
}

func (p *Process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Signal sends the signal to the process group of the child.
func (p *Process) Signal(sig os.Signal) error {
	pid := p.Pid()
	if pid == 0 || p.exited() {
		return ErrNotRunning
	}
	if s, ok := sig.(syscall.Signal); ok {
		return unix.Kill(-pid, s)
	}
	return p.cmd.Process.Signal(sig)
}

func (p *Process) Stop(grace time.Duration) {
	if p.Pid() == 0 || p.exited() {
		return
	}
	if e := p.Signal(unix.SIGTERM); e != nil && e != ErrNotRunning {
		p.logger.Printf("Failed sending SIGTERM to %s: %v", p.name, e)
	}
	var timer *time.Timer
	if grace > 0 {
		timer = time.AfterFunc(grace, func() {
			p.logger.Printf("Graceful shutdown of %s timed out", p.name)
			if e := p.Signal(unix.SIGKILL); e != nil && e != ErrNotRunning {
				p.logger.Printf("Failed killing %s: %v", p.name, e)
			}
		})
	}
	<-p.done
	if timer != nil {
		timer.Stop()
	}
}

// NewProcess prepares a Process.  It is not started until Start is called.
func NewProcess(c Command, opts LaunchOptions) *Process {
	p := &Process{
		name:   c.Name,
		logger: opts.Logger,
		attach: c.Attach,
		done:   make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	p.cmd = exec.Command(c.Path, c.Args...)
	p.cmd.Dir = c.Dir
	if opts.Env != nil {
		p.cmd.Env = opts.Env
	}
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if p.attach {
		// Streams that are not files are copied by exec.Cmd, and a
		// leftover grandchild must not hold up Wait.
		p.cmd.WaitDelay = attachWaitDelay
		p.cmd.Stdin = opts.Stdin
		p.cmd.Stdout = opts.Stdout
		p.cmd.Stderr = opts.Stderr
		if p.cmd.Stdout == nil {
			p.cmd.Stdout = os.Stdout
		}
		if p.cmd.Stderr == nil {
			p.cmd.Stderr = os.Stderr
		}
	}
	return p
}

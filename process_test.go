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

//go:build unix

// These tests start real processes through /bin/sh, so they are limited to
// POSIX systems.

package kitevisor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/sys/unix"
)

type syncBuffer struct {
	b  bytes.Buffer
	mx sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.b.String()
}

func shell(name, script string) Command {
	return Command{Name: name, Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestProcessOutputAndStatus(t *testing.T) {
	Convey("A detached process has its output logged", t, func() {
		out := &syncBuffer{}
		p := NewProcess(shell("echo", "echo hello; echo oops >&2; exit 3"),
			LaunchOptions{Logger: log.New(out, "[echo] ", 0)})
		So(p.Start(), ShouldBeNil)
		So(p.Pid(), ShouldBeGreaterThan, 0)

		code, e := p.Wait()
		So(e, ShouldBeNil)
		So(code, ShouldEqual, 3)
		p.readers.Wait()
		So(out.String(), ShouldContainSubstring, "[echo] stdout> hello\n")
		So(out.String(), ShouldContainSubstring, "[echo] stderr> oops\n")
		So(p.Signal(nil), ShouldEqual, ErrNotRunning)

		Convey("Waiting again gives the same answer", func() {
			code, _ := p.Wait()
			So(code, ShouldEqual, 3)
		})
	})

	Convey("An attached process writes to the given streams", t, func() {
		out := &syncBuffer{}
		cmd := shell("attached", "echo $KITE")
		cmd.Attach = true
		h, e := ExecLauncher{}.Launch(context.Background(), cmd,
			LaunchOptions{Env: []string{"KITE=fly"}, Stdout: out,
				Logger: log.New(&testLog{t: t}, "", 0)})
		So(e, ShouldBeNil)
		code, e := h.Wait()
		So(e, ShouldBeNil)
		So(code, ShouldEqual, 0)
		So(out.String(), ShouldEqual, "fly\n")
	})
}

func TestProcessExitWithLeftoverChild(t *testing.T) {
	Convey("A process is reaped even if its child keeps the output open", t, func() {
		out := &syncBuffer{}
		p := NewProcess(shell("forker", "echo forked; sleep 3 & exit 2"),
			LaunchOptions{Logger: log.New(out, "", 0)})
		So(p.Start(), ShouldBeNil)
		pgid := p.Pid()
		defer unix.Kill(-pgid, unix.SIGKILL)

		select {
		case <-p.Done():
		case <-time.After(2 * time.Second):
			So("process not reaped", ShouldBeEmpty)
		}
		code, e := p.Wait()
		So(e, ShouldBeNil)
		So(code, ShouldEqual, 2)
		So(p.Signal(unix.SIGTERM), ShouldEqual, ErrNotRunning)

		// Output written before the exit still arrives once the
		// leftover child is gone.
		unix.Kill(-pgid, unix.SIGKILL)
		p.readers.Wait()
		So(out.String(), ShouldContainSubstring, "stdout> forked\n")
	})

	Convey("The same holds for attached processes", t, func() {
		cmd := shell("forker", "sleep 3 & exit 4")
		cmd.Attach = true
		p := NewProcess(cmd, LaunchOptions{Stdout: &syncBuffer{},
			Stderr: &syncBuffer{}, Logger: log.New(&testLog{t: t}, "", 0)})
		So(p.Start(), ShouldBeNil)
		defer unix.Kill(-p.Pid(), unix.SIGKILL)

		select {
		case <-p.Done():
		case <-time.After(2500 * time.Millisecond):
			So("process not reaped", ShouldBeEmpty)
		}
		code, _ := p.Wait()
		So(code, ShouldEqual, 4)
	})
}

func TestProcessLaunchFailure(t *testing.T) {
	Convey("Missing executables fail to launch", t, func() {
		for _, path := range []string{
			"/nonexistent/kitevisor-test",
			"kitevisor-no-such-command",
		} {
			_, e := ExecLauncher{}.Launch(context.Background(),
				Command{Name: "missing", Path: path}, LaunchOptions{})
			var le *LaunchError
			So(errors.As(e, &le), ShouldBeTrue)
			So(le.Name, ShouldEqual, "missing")
			So(ExitCode(e), ShouldEqual, ExitNotFound)
		}
	})

	Convey("A process cannot be started twice", t, func() {
		p := NewProcess(shell("true", "true"), LaunchOptions{
			Logger: log.New(&testLog{t: t}, "", 0)})
		So(p.Start(), ShouldBeNil)
		So(p.Start(), ShouldNotBeNil)
		p.Wait()
	})
}

func TestProcessStop(t *testing.T) {
	logger := func() *log.Logger { return log.New(&testLog{t: t}, "", 0) }

	Convey("Stop terminates the process group", t, func() {
		p := NewProcess(shell("sleeper", "sleep 30; exit 0"),
			LaunchOptions{Logger: logger()})
		So(p.Start(), ShouldBeNil)
		start := time.Now()
		p.Stop(5 * time.Second)
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		code, _ := p.Wait()
		So(code, ShouldEqual, 128+15)
	})

	Convey("Stop kills a process that ignores SIGTERM", t, func() {
		p := NewProcess(shell("stubborn", "trap '' TERM; sleep 30"),
			LaunchOptions{Logger: logger()})
		So(p.Start(), ShouldBeNil)
		// Let the shell install its trap.
		time.Sleep(100 * time.Millisecond)
		p.Stop(100 * time.Millisecond)
		code, _ := p.Wait()
		So(code, ShouldEqual, 128+9)
	})

	Convey("Stopping an unstarted or finished process returns at once", t, func() {
		p := NewProcess(shell("idle", "true"), LaunchOptions{Logger: logger()})
		p.Stop(time.Second)
		So(p.Start(), ShouldBeNil)
		p.Wait()
		p.Stop(time.Second)
	})
}

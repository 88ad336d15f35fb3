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
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"syscall"
)

// Exit codes used by the supervisor itself.  The values for launch failures
// follow the shell's conventions, so that the container reports the same
// thing a startup script would have.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitCannotExec = 126
	ExitNotFound   = 127
	exitSignalBase = 128
)

// ExitCode maps an error returned by Run to the status the supervisor
// process should exit with.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var pe *ProxyExitError
	if errors.As(err, &pe) {
		return pe.Code
	}
	var le *LaunchError
	if errors.As(err, &le) {
		if errors.Is(le.Err, exec.ErrNotFound) ||
			errors.Is(le.Err, fs.ErrNotExist) {
			return ExitNotFound
		}
		return ExitCannotExec
	}
	return ExitFailure
}

// exitStatus converts a finished process state into a shell-style status,
// where death by signal N is reported as 128+N.
func exitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return ExitFailure
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitSignalBase + int(ws.Signal())
	}
	return ps.ExitCode()
}

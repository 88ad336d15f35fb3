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
	"fmt"
)

var (
	ErrAlreadyRun = errors.New("Supervisor already run")
	ErrNoCommand  = errors.New("No command configured")
	ErrNotRunning = errors.New("Process is not running")
	ErrBadProbe   = errors.New("Bad readiness probe")
	ErrStopped    = errors.New("Supervisor stopped")
)

// LaunchError is returned when a child process cannot be started at all,
// because the executable is missing or the fork/exec failed.
type LaunchError struct {
	Name string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("Failed to launch %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ProxyExitError reports a non-zero exit of the foreground proxy.
type ProxyExitError struct {
	Code int
}

func (e *ProxyExitError) Error() string {
	return fmt.Sprintf("Proxy exited with status %d", e.Code)
}

// BackendNotReadyError is returned when the readiness probe gives up.
type BackendNotReadyError struct {
	Address string
	Err     error
}

func (e *BackendNotReadyError) Error() string {
	return fmt.Sprintf("Backend not ready at %s: %v", e.Address, e.Err)
}

func (e *BackendNotReadyError) Unwrap() error {
	return e.Err
}

// BackendExitedError is returned when a monitored backend terminates
// while the proxy is still running.
type BackendExitedError struct {
	Code int
}

func (e *BackendExitedError) Error() string {
	return fmt.Sprintf("Backend exited unexpectedly with status %d", e.Code)
}

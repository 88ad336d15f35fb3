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
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestExitCode(t *testing.T) {
	Convey("Errors map to exit codes", t, func() {
		So(ExitCode(nil), ShouldEqual, ExitOK)
		So(ExitCode(&ProxyExitError{Code: 42}), ShouldEqual, 42)
		So(ExitCode(fmt.Errorf("wrapped: %w", &ProxyExitError{Code: 2})),
			ShouldEqual, 2)
		So(ExitCode(&LaunchError{Err: &exec.Error{Name: "x",
			Err: exec.ErrNotFound}}), ShouldEqual, ExitNotFound)
		So(ExitCode(&LaunchError{Err: &fs.PathError{Op: "fork/exec",
			Path: "/x", Err: syscall.ENOENT}}), ShouldEqual, ExitNotFound)
		So(ExitCode(&LaunchError{Err: &fs.PathError{Op: "fork/exec",
			Path: "/x", Err: syscall.EACCES}}), ShouldEqual, ExitCannotExec)
		So(ExitCode(&BackendNotReadyError{Err: errors.New("refused")}),
			ShouldEqual, ExitFailure)
		So(ExitCode(&BackendExitedError{Code: 9}), ShouldEqual, ExitFailure)
		So(ExitCode(context.Canceled), ShouldEqual, ExitFailure)
	})

	Convey("Error messages carry the details", t, func() {
		e := &LaunchError{Name: "backend", Path: "reflex",
			Err: exec.ErrNotFound}
		So(e.Error(), ShouldContainSubstring, "backend")
		So(e.Error(), ShouldContainSubstring, "reflex")
		So(errors.Is(e, exec.ErrNotFound), ShouldBeTrue)
		So((&ProxyExitError{Code: 3}).Error(), ShouldContainSubstring, "3")
		ne := &BackendNotReadyError{Address: "127.0.0.1:8000",
			Err: &BackendExitedError{Code: 1}}
		var be *BackendExitedError
		So(errors.As(ne, &be), ShouldBeTrue)
	})
}

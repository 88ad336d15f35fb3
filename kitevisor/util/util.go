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


// Package util is used for internal implementation bits in the CLI.
package util

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kitecobra/kitevisor"
)

// Status is a short human readable state for the process.
func Status(p *kitevisor.ProcessInfo) string {
	switch p.State {
	case kitevisor.StateExited:
		if p.ExitCode != 0 {
			return "exited (" + strconv.Itoa(p.ExitCode) + ")"
		}
		return "exited"
	case "":
		return "unknown"
	}
	return p.State
}

func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func stateRank(state string) int {
	switch state {
	case kitevisor.StateFailed:
		return 0
	case kitevisor.StateExited:
		return 1
	case kitevisor.StateRunning:
		return 2
	}
	return 3
}

type sorted []*kitevisor.ProcessInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	// Trouble goes to the front.
	if ra, rb := stateRank(a.State), stateRank(b.State); ra != rb {
		return ra < rb
	}
	// The backend comes up first, so list it first.
	if a.Role != b.Role {
		return a.Role == kitevisor.RoleBackend
	}
	return a.Name < b.Name
}

func SortProcesses(items []*kitevisor.ProcessInfo) {
	sort.Sort(sorted(items))
}

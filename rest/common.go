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


// Package rest serves the state of a running kitevisor over HTTP, and
// provides a client for it.
package rest

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kitecobra/kitevisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader carries the Etag the client already has.  Together
	// with PollTimeHeader it asks the server to hold the request until the
	// resource changes.
	PollEtagHeader = "X-Kitevisor-Poll-Etag"

	// PollTimeHeader is the number of seconds the server may wait.
	PollTimeHeader = "X-Kitevisor-Poll-Time"

	// MaxPollTime caps the time a long poll is held, in seconds.
	MaxPollTime = 300
)

var ok struct{}

var ErrBadAuth = errors.New("Bad user:pass supplied")

// ParseAuth splits a "user:pass" credential.
func ParseAuth(s string) (string, string, error) {
	user, pass, found := strings.Cut(s, ":")
	if !found || user == "" {
		return "", "", ErrBadAuth
	}
	return user, pass, nil
}

// Usage is the resource usage of a live process.
type Usage struct {
	RSS        uint64  `json:"rss"`
	CPUPercent float64 `json:"cpuPercent"`
}

// ProcessInfo is the response to GET /processes/{name}.  Usage is only
// present while the process is alive.
type ProcessInfo struct {
	kitevisor.ProcessInfo
	Usage *Usage `json:"usage,omitempty"`
}

// Health is the response to GET /healthz.
type Health struct {
	Healthy bool   `json:"healthy"`
	Phase   string `json:"phase"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func formatEtag(v int64) string {
	return `"` + strconv.FormatInt(v, 16) + `"`
}

func parseEtag(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, false
	}
	v, e := strconv.ParseInt(s, 16, 64)
	return v, e == nil
}

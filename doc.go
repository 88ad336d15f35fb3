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

// Package kitevisor provides a small process supervisor intended to be the
// entrypoint of an application container.  It starts a backend service in
// the background, waits until the backend is plausibly ready, and then runs a
// reverse proxy in the foreground.  The supervisor exits with the proxy's
// status, so the container runtime sees the proxy's fate as its own.
//
// The readiness window is a fixed delay, optionally followed by an active
// probe (a TCP connect or an HTTP request) retried with exponential backoff.
// When monitoring is enabled, both children are watched concurrently, and the
// death of the backend tears down the proxy rather than leaving the container
// running in a degraded state.
//
// There is no dependency graph; the sequence is fixed, and there is exactly
// one backend and one proxy per Supervisor.
//
package kitevisor

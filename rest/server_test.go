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


package rest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitecobra/kitevisor"
)

type result struct {
	code int
	err  error
}

func serveUntilStopped(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	fmt.Fprintf(stdout, "serving %s\n", strings.Join(args[1:], " "))
	<-ctx.Done()
	return 0
}

func newSupervisor(t *testing.T) (*kitevisor.Supervisor, *prometheus.Registry) {
	t.Helper()

	s, err := kitevisor.NewSupervisor(kitevisor.Config{
		Name: "site",
		Backend: kitevisor.Command{
			Name:     "app",
			Path:     "serve",
			Args:     []string{"--port", "8000"},
			StopTime: time.Second,
		},
		Proxy: kitevisor.Command{
			Name:     "web",
			Path:     "proxy",
			StopTime: time.Second,
			Attach:   true,
		},
		Readiness: kitevisor.ReadinessPolicy{Delay: 10 * time.Millisecond},
		Monitor:   true,
	})
	require.NoError(t, err)

	fake := kitevisor.NewFakeLauncher()
	fake.Register("serve", serveUntilStopped)
	fake.Register("proxy", serveUntilStopped)

	reg := prometheus.NewRegistry()
	s.SetLauncher(fake)
	s.SetMetrics(kitevisor.NewMetrics(reg))
	s.SetLogger(log.New(io.Discard, "", 0))
	s.SetStreams(nil, io.Discard, io.Discard)
	s.SetEnviron(nil)
	s.SetNotifier(func(string) {})
	return s, reg
}

// start runs the supervisor until both children are up.
func start(t *testing.T, s *kitevisor.Supervisor) <-chan result {
	t.Helper()

	done := make(chan result, 1)
	go func() {
		code, err := s.Run(context.Background())
		done <- result{code, err}
	}()
	deadline := time.Now().Add(5 * time.Second)
	serial := s.Serial()
	for !s.Healthy() {
		require.True(t, time.Now().Before(deadline), "supervisor never became healthy")
		serial = s.Watch(serial, 100*time.Millisecond)
	}
	return done
}

func stop(t *testing.T, s *kitevisor.Supervisor, done <-chan result) {
	t.Helper()

	s.Stop()
	select {
	case r := <-done:
		assert.Equal(t, 0, r.code)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestHandlerRoutes(t *testing.T) {
	s, reg := newSupervisor(t)
	h := NewHandler(s, reg)
	h.usage = func(pid int) *Usage {
		return &Usage{RSS: 4096, CPUPercent: 1.5}
	}

	// Before Run nothing is healthy yet.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	done := start(t, s)
	defer stop(t, s, done)

	tests := []struct {
		name     string
		method   string
		path     string
		code     int
		contains []string
	}{
		{
			name:     "status",
			method:   "GET",
			path:     "/status",
			code:     http.StatusOK,
			contains: []string{`"phase":"running"`, `"name":"app"`, `"name":"web"`},
		},
		{
			name:     "process by role",
			method:   "GET",
			path:     "/processes/backend",
			code:     http.StatusOK,
			contains: []string{`"name":"app"`, `"state":"running"`, `"rss":4096`},
		},
		{
			name:     "process by name",
			method:   "GET",
			path:     "/processes/web",
			code:     http.StatusOK,
			contains: []string{`"role":"proxy"`},
		},
		{
			name:     "unknown process",
			method:   "GET",
			path:     "/processes/nope",
			code:     http.StatusNotFound,
			contains: []string{"Process not found"},
		},
		{
			name:     "log",
			method:   "GET",
			path:     "/log",
			code:     http.StatusOK,
			contains: []string{"stdout> serving --port 8000"},
		},
		{
			name:     "health",
			method:   "GET",
			path:     "/healthz",
			code:     http.StatusOK,
			contains: []string{`"healthy":true`},
		},
		{
			name:     "metrics",
			method:   "GET",
			path:     "/metrics",
			code:     http.StatusOK,
			contains: []string{`kitevisor_process_launches_total{process="backend"} 1`},
		},
		{
			name:   "stop needs POST",
			method: "GET",
			path:   "/stop",
			code:   http.StatusMethodNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			for _, s := range tt.contains {
				assert.Contains(t, rec.Body.String(), s)
			}
		})
	}
}

func TestHandlerEtag(t *testing.T) {
	s, reg := newSupervisor(t)
	h := NewHandler(s, reg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("Etag")
	require.NotEmpty(t, etag)

	t.Run("unchanged", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/status", nil)
		req.Header.Set("If-None-Match", etag)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})

	t.Run("long poll wakes on change", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/status", nil)
		req.Header.Set("If-None-Match", etag)
		req.Header.Set(PollEtagHeader, etag)
		req.Header.Set(PollTimeHeader, "10")
		rec := httptest.NewRecorder()

		served := make(chan struct{})
		go func() {
			h.ServeHTTP(rec, req)
			close(served)
		}()

		done := start(t, s)
		defer stop(t, s, done)

		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Fatal("long poll did not return")
		}
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEqual(t, etag, rec.Header().Get("Etag"))
	})
}

func TestHandlerAuth(t *testing.T) {
	t.Run("stop refused without credentials", func(t *testing.T) {
		s, reg := newSupervisor(t)
		h := NewHandler(s, reg)
		done := start(t, s)
		defer stop(t, s, done)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/stop", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		// Still running.
		time.Sleep(50 * time.Millisecond)
		assert.True(t, s.Healthy())

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("credentials required", func(t *testing.T) {
		s, reg := newSupervisor(t)
		h := NewHandler(s, reg)
		h.SetAuth("admin", "secret")

		tests := []struct {
			name   string
			method string
			path   string
			user   string
			pass   string
			code   int
		}{
			{"no credentials", "GET", "/status", "", "", http.StatusUnauthorized},
			{"wrong password", "GET", "/status", "admin", "guess", http.StatusUnauthorized},
			{"wrong user", "GET", "/log", "root", "secret", http.StatusUnauthorized},
			{"metrics", "GET", "/metrics", "", "", http.StatusUnauthorized},
			{"stop", "POST", "/stop", "", "", http.StatusUnauthorized},
			{"health is open", "GET", "/healthz", "", "", http.StatusServiceUnavailable},
			{"status", "GET", "/status", "admin", "secret", http.StatusOK},
			{"process", "GET", "/processes/proxy", "admin", "secret", http.StatusOK},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := httptest.NewRequest(tt.method, tt.path, nil)
				if tt.user != "" {
					req.SetBasicAuth(tt.user, tt.pass)
				}
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				assert.Equal(t, tt.code, rec.Code)
				if tt.code == http.StatusUnauthorized {
					assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
				}
			})
		}

		done := start(t, s)
		req := httptest.NewRequest("POST", "/stop", nil)
		req.SetBasicAuth("admin", "secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		select {
		case r := <-done:
			assert.Equal(t, 0, r.code)
		case <-time.After(5 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	})
}

func TestParseAuth(t *testing.T) {
	tests := []struct {
		in   string
		user string
		pass string
		err  error
	}{
		{"admin:secret", "admin", "secret", nil},
		{"admin:se:cret", "admin", "se:cret", nil},
		{"admin:", "admin", "", nil},
		{"admin", "", "", ErrBadAuth},
		{":secret", "", "", ErrBadAuth},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			user, pass, err := ParseAuth(tt.in)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.pass, pass)
		})
	}
}

func TestPollWait(t *testing.T) {
	tests := []struct {
		name    string
		etag    string
		secs    string
		current int64
		want    time.Duration
	}{
		{"none", "", "", 10, 0},
		{"matching", `"a"`, "3", 10, 3 * time.Second},
		{"stale", `"b"`, "3", 10, 0},
		{"capped", `"a"`, "9999", 10, MaxPollTime * time.Second},
		{"bad time", `"a"`, "soon", 10, 0},
		{"negative", `"a"`, "-1", 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/status", nil)
			if tt.etag != "" {
				req.Header.Set(PollEtagHeader, tt.etag)
			}
			req.Header.Set(PollTimeHeader, tt.secs)
			assert.Equal(t, tt.want, pollWait(req, tt.current))
		})
	}
}

func TestClient(t *testing.T) {
	s, reg := newSupervisor(t)
	handler := NewHandler(s, reg)
	handler.SetAuth("admin", "secret")
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := NewClient(nil, srv.URL+"/")
	c.SetAuth("admin", "secret")
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, kitevisor.PhaseInit, h.Phase)

	st, err := c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "site", st.Name)

	// Nothing changes before Run, so a short watch returns the same value.
	same, err := c.WatchStatus(ctx, st, 1)
	require.NoError(t, err)
	assert.Same(t, st, same)

	done := start(t, s)
	stopped := false
	defer func() {
		if !stopped {
			stop(t, s, done)
		}
	}()

	h, err = c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	next, err := c.WatchStatus(ctx, st, 1)
	require.NoError(t, err)
	assert.Equal(t, kitevisor.PhaseRunning, next.Phase)
	assert.Equal(t, kitevisor.StateRunning, next.Backend.State)

	p, err := c.GetProcess(ctx, "proxy")
	require.NoError(t, err)
	assert.Equal(t, "web", p.Name)

	_, err = c.GetProcess(ctx, "missing")
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Code)

	l, err := c.GetLog(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, l.Records)

	require.NoError(t, c.Stop(ctx))
	select {
	case r := <-done:
		stopped = true
		assert.Equal(t, 0, r.code)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

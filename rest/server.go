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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/kitecobra/kitevisor"
)

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s     *kitevisor.Supervisor
	r     *mux.Router
	usage func(pid int) *Usage
	user  string
	pass  string
	auth  bool
}

// SetAuth requires HTTP Basic-Auth on every route except /healthz, which
// container health checks must reach without credentials.  Without it
// POST /stop is refused.  Call before serving.
func (h *Handler) SetAuth(user string, pass string) {
	h.user = user
	h.pass = pass
	h.auth = true
}

func (h *Handler) authorized(r *http.Request) bool {
	user, pass, found := r.BasicAuth()
	if !found {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(user), []byte(h.user))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(h.pass))
	return u&p == 1
}

func (h *Handler) guard(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.auth && !h.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="kitevisor"`)
			h.writeError(w, &Error{http.StatusUnauthorized, "Authorization required"})
			return
		}
		fn(w, r)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonCode(w, http.StatusOK, v)
}

func (h *Handler) writeJsonCode(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJsonCode(w, e.Code, e)
}

// pollWait returns how long the client is willing to wait for a change of
// the resource from the given tag.  Zero means no long poll was asked for,
// or the client's tag is already stale.
func pollWait(r *http.Request, current int64) time.Duration {
	old, ok := parseEtag(r.Header.Get(PollEtagHeader))
	if !ok || old != current {
		return 0
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return 0
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return time.Duration(secs) * time.Second
}

// notModified handles If-None-Match.  It returns true if the response has
// been written.
func notModified(w http.ResponseWriter, r *http.Request, current int64) bool {
	if tag, ok := parseEtag(r.Header.Get("If-None-Match")); ok && tag == current {
		w.Header().Set("Etag", formatEtag(current))
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	serial := h.s.Serial()
	if d := pollWait(r, serial); d > 0 {
		serial = h.s.Watch(serial, d)
	}
	if notModified(w, r, serial) {
		return
	}
	info := h.s.Info()
	w.Header().Set("Etag", formatEtag(info.Serial))
	h.writeJson(w, info)
}

func (h *Handler) getProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pi, found := h.s.Process(name)
	if !found {
		h.writeError(w, &Error{http.StatusNotFound, "Process not found"})
		return
	}
	info := &ProcessInfo{ProcessInfo: pi}
	if pi.State == kitevisor.StateRunning && pi.Pid > 0 {
		info.Usage = h.usage(pi.Pid)
	}
	h.writeJson(w, info)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	l := h.s.Log()
	id := l.Watch(0, 0)
	if d := pollWait(r, id); d > 0 {
		id = l.Watch(id, d)
	}
	if notModified(w, r, id) {
		return
	}
	recs, id := l.Records(0)
	if recs == nil {
		recs = []kitevisor.LogRecord{}
	}
	w.Header().Set("Etag", formatEtag(id))
	h.writeJson(w, recs)
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	health := &Health{Healthy: h.s.Healthy(), Phase: h.s.Info().Phase}
	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJsonCode(w, code, health)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if !h.auth {
		h.writeError(w, &Error{http.StatusForbidden, "Stop requires credentials"})
		return
	}
	h.s.Stop()
	h.writeJson(w, ok)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// processUsage looks the process up in the process table.  It returns nil
// if that fails, which is normal for a process that just exited.
func processUsage(pid int) *Usage {
	p, e := process.NewProcess(int32(pid))
	if e != nil {
		return nil
	}
	mem, e := p.MemoryInfo()
	if e != nil {
		return nil
	}
	cpu, e := p.CPUPercent()
	if e != nil {
		return nil
	}
	return &Usage{RSS: mem.RSS, CPUPercent: cpu}
}

// NewHandler returns the status API for the supervisor.  Metrics are
// gathered from g, or from the default Prometheus registry if g is nil.
func NewHandler(s *kitevisor.Supervisor, g prometheus.Gatherer) *Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r := mux.NewRouter()
	h := &Handler{s: s, r: r, usage: processUsage}
	metrics := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	r.HandleFunc("/status", h.guard(h.getStatus)).Methods("GET")
	r.HandleFunc("/processes/{name}", h.guard(h.getProcess)).Methods("GET")
	r.HandleFunc("/log", h.guard(h.getLog)).Methods("GET")
	r.HandleFunc("/healthz", h.getHealth).Methods("GET")
	r.HandleFunc("/metrics", h.guard(metrics.ServeHTTP)).Methods("GET")
	r.HandleFunc("/stop", h.guard(h.stop)).Methods("POST")
	return h
}

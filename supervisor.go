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
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
)

// Supervisor phases, as reported by Info.
const (
	PhaseInit     = "init"
	PhaseBackend  = "launching backend"
	PhaseWaiting  = "waiting for backend"
	PhaseProxy    = "launching proxy"
	PhaseRunning  = "running"
	PhaseStopping = "stopping"
	PhaseExited   = "exited"
)

// Child process states.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateExited  = "exited"
	StateFailed  = "failed"
)

const (
	RoleBackend = "backend"
	RoleProxy   = "proxy"
)

// ProcessInfo is a snapshot of one child's state.
type ProcessInfo struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Command   []string  `json:"command"`
	Pid       int       `json:"pid"`
	State     string    `json:"state"`
	Started   time.Time `json:"started"`
	Exited    time.Time `json:"exited"`
	ExitCode  int       `json:"exitCode"`
	Status    string    `json:"status"`
	TimeStamp time.Time `json:"tstamp"`
}

// Info is a consistent snapshot of the whole supervisor.
type Info struct {
	Name       string      `json:"name"`
	Phase      string      `json:"phase"`
	Serial     int64       `json:"serial,string"`
	CreateTime time.Time   `json:"created"`
	UpdateTime time.Time   `json:"updated"`
	Backend    ProcessInfo `json:"backend"`
	Proxy      ProcessInfo `json:"proxy"`
}

type child struct {
	cmd    Command
	handle Handle
	info   ProcessInfo
}

// Supervisor runs one backend and one proxy.  See the package
// documentation for the sequence.  A Supervisor can be run only once.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	metrics  *Metrics
	notify   func(state string)
	environ  []string
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer

	mlog    *MultiLogger
	logger  *log.Logger
	userLog *log.Logger
	log     *Log
	backend child
	proxy   child
	phase   string
	ran     bool
	stopped bool
	cancel  context.CancelCauseFunc
	serial  int64
	created time.Time
	updated time.Time
	mx      sync.Mutex
	cvs     map[*sync.Cond]bool
}

// NewSupervisor validates the configuration and returns a Supervisor that
// launches real processes and logs to standard error.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	now := time.Now()
	s := &Supervisor{
		cfg:      cfg,
		launcher: ExecLauncher{},
		notify:   sdNotify,
		environ:  os.Environ(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		phase:    PhaseInit,
		serial:   now.UnixNano(),
		created:  now,
		updated:  now,
		cvs:      make(map[*sync.Cond]bool),
	}
	s.backend = newChild(RoleBackend, cfg.Backend, now)
	s.proxy = newChild(RoleProxy, cfg.Proxy, now)
	s.log = NewLog(MaxLogRecords)
	s.mlog = NewMultiLogger()
	s.mlog.AddSink(s.log)
	s.SetLogger(log.New(os.Stderr, "", log.LstdFlags))
	s.logger = log.New(s.mlog, "["+cfg.Name+"] ", 0)
	return s, nil
}

func newChild(role string, c Command, now time.Time) child {
	return child{
		cmd: c,
		info: ProcessInfo{
			Name:      c.Name,
			Role:      role,
			Command:   append([]string{c.Path}, c.Args...),
			State:     StatePending,
			Status:    "Not started",
			TimeStamp: now,
		},
	}
}

func sdNotify(state string) {
	// Without NOTIFY_SOCKET this does nothing.
	daemon.SdNotify(false, state)
}

// SetLauncher replaces the process launcher.  Call before Run.
func (s *Supervisor) SetLauncher(l Launcher) {
	s.launcher = l
}

// SetMetrics attaches Prometheus collectors.  Call before Run.
func (s *Supervisor) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetNotifier replaces the service manager notification hook, which by
// default is sd_notify.  Call before Run.
func (s *Supervisor) SetNotifier(fn func(state string)) {
	s.notify = fn
}

// SetEnviron replaces the environment handed down to children, which
// defaults to the supervisor's own.  Call before Run.
func (s *Supervisor) SetEnviron(env []string) {
	s.environ = env
}

// SetStreams sets the standard streams that attached children inherit.
// Call before Run.
func (s *Supervisor) SetStreams(stdin io.Reader, stdout, stderr io.Writer) {
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
}

// SetLogger replaces the logger that receives supervisor output, in
// addition to the in-memory log.  It overrides the default, which writes
// to standard error.
func (s *Supervisor) SetLogger(l *log.Logger) {
	if s.userLog != nil {
		s.mlog.DelLogger(s.userLog)
	}
	s.userLog = l
	if l != nil {
		s.mlog.AddLogger(l)
	}
}

// AddLogSink adds another destination for supervisor output.
func (s *Supervisor) AddLogSink(w io.Writer) {
	s.mlog.AddSink(w)
}

// Log returns the in-memory log of supervisor and backend output.
func (s *Supervisor) Log() *Log {
	return s.log
}

// Config returns the validated configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

func (s *Supervisor) logf(format string, v ...interface{}) {
	s.logger.Printf(format, v...)
}

// bumpSerial records a state change and wakes watchers.  Call with the
// lock held.
func (s *Supervisor) bumpSerial() {
	s.updated = time.Now()
	s.serial++
	for cv := range s.cvs {
		cv.Broadcast()
	}
}

func (s *Supervisor) setPhase(phase string) {
	s.mx.Lock()
	s.phase = phase
	s.bumpSerial()
	s.mx.Unlock()
}

// Serial returns a number that changes whenever the supervisor state does.
func (s *Supervisor) Serial() int64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.serial
}

// Watch blocks until the serial differs from old, or expire elapses, and
// returns the serial at that point.
func (s *Supervisor) Watch(old int64, expire time.Duration) int64 {
	return watchCond(&s.mx, s.cvs, func() int64 { return s.serial }, old,
		expire)
}

// Info returns a snapshot of the supervisor.
func (s *Supervisor) Info() *Info {
	s.mx.Lock()
	defer s.mx.Unlock()
	return &Info{
		Name:       s.cfg.Name,
		Phase:      s.phase,
		Serial:     s.serial,
		CreateTime: s.created,
		UpdateTime: s.updated,
		Backend:    s.backend.info,
		Proxy:      s.proxy.info,
	}
}

// Process returns the state of a child, found by role or by name.
func (s *Supervisor) Process(name string) (ProcessInfo, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, c := range []*child{&s.backend, &s.proxy} {
		if c.info.Role == name || c.info.Name == name {
			return c.info, true
		}
	}
	return ProcessInfo{}, false
}

// Healthy is true while both children are running under a running
// supervisor.
func (s *Supervisor) Healthy() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.phase == PhaseRunning &&
		s.backend.info.State == StateRunning &&
		s.proxy.info.State == StateRunning
}

// Stop asks a running supervisor to shut down.  The proxy is stopped
// first, then the backend, and Run returns with the proxy's status.
// Stopping before Run makes Run return immediately.
func (s *Supervisor) Stop() {
	s.mx.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mx.Unlock()
	if cancel != nil {
		s.logf("Stop requested")
		cancel(ErrStopped)
	}
}

func (s *Supervisor) launch(ctx context.Context, c *child) (Handle, error) {
	env := MergeEnv(s.environ, DeploymentDefaults(s.environ), c.cmd.Env)
	opts := LaunchOptions{
		Env:    env,
		Logger: log.New(s.mlog, "["+c.cmd.Name+"] ", 0),
	}
	if c.cmd.Attach {
		opts.Stdin = s.stdin
		opts.Stdout = s.stdout
		opts.Stderr = s.stderr
	}

	h, e := s.launcher.Launch(ctx, c.cmd, opts)
	now := time.Now()
	if e != nil {
		var le *LaunchError
		if !errors.As(e, &le) {
			e = &LaunchError{Name: c.cmd.Name, Path: c.cmd.Path, Err: e}
		}
		s.mx.Lock()
		c.info.State = StateFailed
		c.info.Status = "Failed to start: " + e.Error()
		c.info.TimeStamp = now
		s.bumpSerial()
		s.mx.Unlock()
		if m := s.metrics; m != nil {
			m.launchFailures.WithLabelValues(c.info.Role).Inc()
		}
		s.logf("%v", e)
		return nil, e
	}

	s.mx.Lock()
	c.handle = h
	c.info.Pid = h.Pid()
	c.info.State = StateRunning
	c.info.Started = now
	c.info.Status = "Started"
	c.info.TimeStamp = now
	s.bumpSerial()
	s.mx.Unlock()
	if m := s.metrics; m != nil {
		m.launches.WithLabelValues(c.info.Role).Inc()
		m.up.WithLabelValues(c.info.Role).Set(1)
	}
	s.logf("Launched %s (pid %d)", c.cmd.Name, h.Pid())

	go s.reap(c, h)
	return h, nil
}

// reap records the exit of a child.
func (s *Supervisor) reap(c *child, h Handle) {
	code, e := h.Wait()
	now := time.Now()
	s.mx.Lock()
	c.info.State = StateExited
	c.info.ExitCode = code
	c.info.Exited = now
	c.info.TimeStamp = now
	if e != nil {
		c.info.State = StateFailed
		c.info.Status = "Wait failed: " + e.Error()
	} else {
		c.info.Status = "Exited"
	}
	s.bumpSerial()
	s.mx.Unlock()
	if m := s.metrics; m != nil {
		m.up.WithLabelValues(c.info.Role).Set(0)
		m.exitCode.WithLabelValues(c.info.Role).Set(float64(code))
	}
	s.logf("%s exited with status %d", c.cmd.Name, code)
}

// LaunchBackend starts the backend in the background.  A *LaunchError is
// returned if it cannot be started.
func (s *Supervisor) LaunchBackend(ctx context.Context) (Handle, error) {
	s.setPhase(PhaseBackend)
	return s.launch(ctx, &s.backend)
}

// LaunchProxy starts the proxy, without waiting for it.
func (s *Supervisor) LaunchProxy(ctx context.Context) (Handle, error) {
	s.setPhase(PhaseProxy)
	return s.launch(ctx, &s.proxy)
}

// WaitReady blocks for the readiness window: the fixed delay, followed by
// the readiness probe if one is configured.  Only the supervisor waits;
// the backend keeps running.
func (s *Supervisor) WaitReady(ctx context.Context, backend Handle) error {
	s.setPhase(PhaseWaiting)
	r := s.cfg.Readiness
	start := time.Now()
	defer func() {
		if m := s.metrics; m != nil {
			m.readyWait.Set(time.Since(start).Seconds())
		}
	}()

	if r.Delay > 0 {
		s.logf("Waiting %v for %s", r.Delay, s.cfg.Backend.Name)
		if e := s.delay(ctx, r.Delay, backend); e != nil {
			return e
		}
	}
	prober, e := NewProber(r)
	if e != nil || prober == nil {
		return e
	}

	s.logf("Probing %s (%s)", r.Address, r.Probe)
	e = probeBackend(ctx, r, prober, backend, func(n int, err error) {
		if m := s.metrics; m != nil {
			m.probeAttempts.Inc()
		}
		if err != nil && n%10 == 1 {
			s.logf("Backend not ready yet (attempt %d): %v", n, err)
		}
	})
	if e == nil {
		s.logf("Backend ready after %v", time.Since(start).Round(time.Millisecond))
	}
	return e
}

// delay sleeps through the readiness delay.  When monitoring, a backend
// that exits meanwhile ends the wait with a *BackendExitedError.
func (s *Supervisor) delay(ctx context.Context, d time.Duration, backend Handle) error {
	if !s.cfg.Monitor || backend == nil {
		return sleepContext(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-backend.Done():
		code, _ := backend.Wait()
		s.logf("%s exited during the readiness delay", s.cfg.Backend.Name)
		return &BackendExitedError{Code: code}
	}
}

// RunProxy launches the proxy and blocks until it exits, returning its
// exit status.  If the context is canceled first, the proxy is stopped.
func (s *Supervisor) RunProxy(ctx context.Context) (int, error) {
	h, e := s.LaunchProxy(ctx)
	if e != nil {
		return ExitCode(e), e
	}
	s.setPhase(PhaseRunning)
	return s.waitProxy(ctx, h)
}

func (s *Supervisor) waitProxy(ctx context.Context, proxy Handle) (int, error) {
	select {
	case <-proxy.Done():
	case <-ctx.Done():
		s.logf("Stopping %s", s.cfg.Proxy.Name)
		proxy.Stop(s.cfg.Proxy.StopTime)
	}
	return proxyStatus(proxy)
}

func proxyStatus(proxy Handle) (int, error) {
	code, e := proxy.Wait()
	if e != nil {
		return ExitFailure, e
	}
	if code != 0 {
		return code, &ProxyExitError{Code: code}
	}
	return ExitOK, nil
}

var errProxyDone = errors.New("Proxy exited")

// supervise waits on both children; the first one to exit ends the run
// and takes the other one down.
func (s *Supervisor) supervise(ctx context.Context, backend, proxy Handle) (int, error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-backend.Done():
			code, _ := backend.Wait()
			s.logf("%s died, taking %s down",
				s.cfg.Backend.Name, s.cfg.Proxy.Name)
			return &BackendExitedError{Code: code}
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		code, e := proxyStatus(proxy)
		if e != nil {
			return e
		}
		if code == 0 {
			return errProxyDone
		}
		return &ProxyExitError{Code: code}
	})
	g.Go(func() error {
		<-gctx.Done()
		proxy.Stop(s.cfg.Proxy.StopTime)
		backend.Stop(s.cfg.Backend.StopTime)
		return nil
	})

	e := g.Wait()
	if errors.Is(e, errProxyDone) {
		return ExitOK, nil
	}
	return ExitCode(e), e
}

// Run performs the whole sequence: launch the backend, wait for it, run
// the proxy in the foreground, and return the proxy's exit status.  The
// error describes any failure; ExitCode(err) equals the returned status
// except for a clean exit.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	s.mx.Lock()
	if s.ran {
		s.mx.Unlock()
		return ExitFailure, ErrAlreadyRun
	}
	s.ran = true
	ctx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	stopped := s.stopped
	s.mx.Unlock()
	defer cancel(nil)
	if stopped {
		cancel(ErrStopped)
	}

	s.logf("*** Kitevisor starting: %s ***", s.cfg.Name)
	code, e := s.run(ctx)
	s.setPhase(PhaseExited)
	if e != nil {
		s.logf("*** Kitevisor exiting with status %d: %v ***", code, e)
	} else {
		s.logf("*** Kitevisor exiting with status %d ***", code)
	}
	return code, e
}

func (s *Supervisor) run(ctx context.Context) (int, error) {
	if e := context.Cause(ctx); e != nil {
		return ExitFailure, e
	}
	backend, e := s.LaunchBackend(ctx)
	if e != nil {
		return ExitCode(e), e
	}
	defer backend.Stop(s.cfg.Backend.StopTime)

	if e := s.WaitReady(ctx, backend); e != nil {
		if ctx.Err() != nil {
			e = context.Cause(ctx)
		}
		s.setPhase(PhaseStopping)
		return ExitCode(e), e
	}

	proxy, e := s.LaunchProxy(ctx)
	if e != nil {
		s.setPhase(PhaseStopping)
		return ExitCode(e), e
	}
	s.setPhase(PhaseRunning)
	s.notify(daemon.SdNotifyReady)
	defer s.notify(daemon.SdNotifyStopping)

	var code int
	if s.cfg.Monitor {
		code, e = s.supervise(ctx, backend, proxy)
	} else {
		code, e = s.waitProxy(ctx, proxy)
	}
	s.setPhase(PhaseStopping)
	return code, e
}

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
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultProbeBudget    = 15 * time.Minute
	defaultAttemptTimeout = 2 * time.Second
)

// Prober performs one readiness check against the backend.
type Prober interface {
	Probe(ctx context.Context) error
}

type tcpProber struct {
	addr    string
	timeout time.Duration
}

func (p *tcpProber) Probe(ctx context.Context) error {
	d := net.Dialer{Timeout: p.timeout}
	c, e := d.DialContext(ctx, "tcp", p.addr)
	if e != nil {
		return e
	}
	return c.Close()
}

type httpProber struct {
	url    string
	client *http.Client
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, e := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if e != nil {
		return e
	}
	res, e := p.client.Do(req)
	if e != nil {
		return e
	}
	res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 400 {
		return fmt.Errorf("probe %s: %s", p.url, res.Status)
	}
	return nil
}

// NewProber returns the Prober selected by the policy.  It returns nil,
// with no error, for ProbeNone.
func NewProber(r ReadinessPolicy) (Prober, error) {
	timeout := r.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	switch r.Probe {
	case "", ProbeNone:
		return nil, nil
	case ProbeTCP:
		if r.Address == "" {
			return nil, ErrBadProbe
		}
		return &tcpProber{addr: r.Address, timeout: timeout}, nil
	case ProbeHTTP:
		if r.Address == "" {
			return nil, ErrBadProbe
		}
		url := r.Address
		if !strings.Contains(url, "://") {
			url = "http://" + url
		}
		return &httpProber{
			url:    url,
			client: &http.Client{Timeout: timeout},
		}, nil
	}
	return nil, ErrBadProbe
}

// sleepContext waits for d, or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// probeBackend polls until the prober succeeds.  A backend that exits
// while being probed ends the wait immediately.  The attempt callback, if
// not nil, is called after each probe.
func probeBackend(ctx context.Context, r ReadinessPolicy, prober Prober,
	backend Handle, attempt func(int, error)) error {

	b := backoff.NewExponentialBackOff()
	if r.Interval > 0 {
		b.InitialInterval = r.Interval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	budget := r.Timeout
	if budget <= 0 {
		budget = defaultProbeBudget
	}

	n := 0
	op := func() (struct{}, error) {
		n++
		if backend != nil {
			select {
			case <-backend.Done():
				code, _ := backend.Wait()
				return struct{}{}, backoff.Permanent(
					&BackendExitedError{Code: code})
			default:
			}
		}
		e := prober.Probe(ctx)
		if attempt != nil {
			attempt(n, e)
		}
		return struct{}{}, e
	}

	_, e := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(budget))
	if e == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &BackendNotReadyError{Address: r.Address, Err: e}
}

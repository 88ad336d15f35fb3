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
	"fmt"
	"time"
)

// Probe kinds understood by ReadinessPolicy.
const (
	ProbeNone = "none"
	ProbeTCP  = "tcp"
	ProbeHTTP = "http"
)

// Command describes how to start one child process.
type Command struct {
	Name     string        `mapstructure:"name" json:"name" yaml:"name"`
	Path     string        `mapstructure:"path" json:"path" yaml:"path"`
	Args     []string      `mapstructure:"args" json:"args" yaml:"args"`
	Env      []string      `mapstructure:"env" json:"env" yaml:"env"`
	Dir      string        `mapstructure:"dir" json:"dir" yaml:"dir"`
	StopTime time.Duration `mapstructure:"stopTime" json:"stopTime" yaml:"stopTime"`

	// Attach connects the child to the supervisor's own standard streams,
	// rather than capturing its output into the log.
	Attach bool `mapstructure:"attach" json:"attach" yaml:"attach"`
}

// ReadinessPolicy controls the wait between launching the backend and
// launching the proxy.  Delay is always honored first.  If Probe is not
// ProbeNone, the backend is then polled until it answers or Timeout expires.
type ReadinessPolicy struct {
	Delay          time.Duration `mapstructure:"delay" json:"delay" yaml:"delay"`
	Probe          string        `mapstructure:"probe" json:"probe" yaml:"probe"`
	Address        string        `mapstructure:"address" json:"address" yaml:"address"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	Interval       time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	MaxInterval    time.Duration `mapstructure:"maxInterval" json:"maxInterval" yaml:"maxInterval"`
	AttemptTimeout time.Duration `mapstructure:"attemptTimeout" json:"attemptTimeout" yaml:"attemptTimeout"`
}

// Config is everything a Supervisor needs.  Nothing is read from globals.
type Config struct {
	Name      string          `mapstructure:"name" json:"name" yaml:"name"`
	Backend   Command         `mapstructure:"backend" json:"backend" yaml:"backend"`
	Proxy     Command         `mapstructure:"proxy" json:"proxy" yaml:"proxy"`
	Readiness ReadinessPolicy `mapstructure:"readiness" json:"readiness" yaml:"readiness"`
	Monitor   bool            `mapstructure:"monitor" json:"monitor" yaml:"monitor"`

	// StatusAddr, if not empty, is where the daemon serves its status API.
	StatusAddr string `mapstructure:"statusAddr" json:"statusAddr" yaml:"statusAddr"`

	// StatusAuth is "user:pass".  When set, the status API requires it,
	// and only then can the supervisor be stopped through the API.
	StatusAuth string `mapstructure:"statusAuth" json:"statusAuth" yaml:"statusAuth"`
}

// DefaultConfig returns the production defaults: a Reflex backend on port
// 8000 and Caddy in front of it.  The backend gets a fixed delay and is not
// watched afterwards.  Set Readiness.Probe to ProbeTCP (the address is
// already filled in) or Monitor to true to opt in to either.
func DefaultConfig() Config {
	return Config{
		Name: "kitevisor",
		Backend: Command{
			Name: "backend",
			Path: "reflex",
			Args: []string{
				"run",
				"--env", "prod",
				"--backend-only",
				"--loglevel", "info",
				"--backend-port", "8000",
			},
			StopTime: 10 * time.Second,
		},
		Proxy: Command{
			Name: "proxy",
			Path: "caddy",
			Args: []string{
				"run",
				"--config", "/etc/caddy/Caddyfile",
				"--adapter", "caddyfile",
			},
			StopTime: 10 * time.Second,
			Attach:   true,
		},
		Readiness: ReadinessPolicy{
			Delay:          5 * time.Second,
			Probe:          ProbeNone,
			Address:        "127.0.0.1:8000",
			Timeout:        time.Minute,
			Interval:       250 * time.Millisecond,
			MaxInterval:    5 * time.Second,
			AttemptTimeout: 2 * time.Second,
		},
		Monitor: false,
	}
}

func (c *Command) validate(what string) error {
	if c.Path == "" {
		return fmt.Errorf("%s: %w", what, ErrNoCommand)
	}
	if c.Name == "" {
		c.Name = what
	}
	return nil
}

// Validate checks the configuration and fills in names that were left
// empty.
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = "kitevisor"
	}
	if e := c.Backend.validate("backend"); e != nil {
		return e
	}
	if e := c.Proxy.validate("proxy"); e != nil {
		return e
	}
	r := &c.Readiness
	if r.Delay < 0 || r.Timeout < 0 {
		return fmt.Errorf("negative readiness duration: %w", ErrBadProbe)
	}
	switch r.Probe {
	case "":
		r.Probe = ProbeNone
	case ProbeNone:
	case ProbeTCP, ProbeHTTP:
		if r.Address == "" {
			return fmt.Errorf("%s probe without address: %w",
				r.Probe, ErrBadProbe)
		}
	default:
		return fmt.Errorf("probe %q: %w", r.Probe, ErrBadProbe)
	}
	return nil
}

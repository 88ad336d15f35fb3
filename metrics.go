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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a Supervisor.
type Metrics struct {
	launches       *prometheus.CounterVec
	launchFailures *prometheus.CounterVec
	up             *prometheus.GaugeVec
	exitCode       *prometheus.GaugeVec
	readyWait      prometheus.Gauge
	probeAttempts  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitevisor_process_launches_total",
				Help: "Child processes launched, by role",
			},
			[]string{"process"},
		),
		launchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kitevisor_process_launch_failures_total",
				Help: "Child processes that could not be started, by role",
			},
			[]string{"process"},
		),
		up: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kitevisor_process_up",
				Help: "Whether the child process is running (1) or not (0)",
			},
			[]string{"process"},
		),
		exitCode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kitevisor_process_exit_code",
				Help: "Exit status of the child process, once it has exited",
			},
			[]string{"process"},
		),
		readyWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kitevisor_readiness_wait_seconds",
				Help: "Time spent waiting for the backend before launching the proxy",
			},
		),
		probeAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kitevisor_readiness_probe_attempts_total",
				Help: "Readiness probes sent to the backend",
			},
		),
	}
	reg.MustRegister(m.launches, m.launchFailures, m.up, m.exitCode,
		m.readyWait, m.probeAttempts)
	return m
}

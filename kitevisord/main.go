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


// Command kitevisord runs a backend and a reverse proxy in one container.
// The backend is started in the background, given time to come up, and
// then the proxy is run in the foreground.  kitevisord exits with the
// proxy's status.
//
// With no arguments the built-in defaults are used.  The flags are
//
//	--config <file>		- configuration file (YAML, JSON or TOML)
//	--status-addr <addr>	- serve the status API on this address
//
// Any configuration key can be overridden from the environment, for
// example KITEVISOR_READINESS_DELAY=10s or KITEVISOR_BACKEND_PATH=/app/run.
//
// "kitevisord config" prints the effective configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kitecobra/kitevisor"
	"github.com/kitecobra/kitevisor/rest"
)

const shutdownTime = 5 * time.Second

type daemon struct {
	v          *viper.Viper
	configFile string
	code       int

	// prepare, if set, adjusts the supervisor before it runs.
	prepare func(*kitevisor.Supervisor)
}

func (d *daemon) serveStatus(cfg kitevisor.Config, s *kitevisor.Supervisor, g prometheus.Gatherer) (func(), error) {
	h := rest.NewHandler(s, g)
	if cfg.StatusAuth != "" {
		user, pass, e := rest.ParseAuth(cfg.StatusAuth)
		if e != nil {
			return nil, fmt.Errorf("statusAuth: %w", e)
		}
		h.SetAuth(user, pass)
	}
	l, e := net.Listen("tcp", cfg.StatusAddr)
	if e != nil {
		return nil, e
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if e := srv.Serve(l); e != nil && !errors.Is(e, http.ErrServerClosed) {
			log.Printf("Status server failed: %v", e)
		}
	}()
	log.Printf("Status API listening on %s", l.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTime)
		defer cancel()
		if srv.Shutdown(ctx) != nil {
			// Long polls may still be held.
			srv.Close()
		}
	}, nil
}

func (d *daemon) run(cmd *cobra.Command, args []string) error {
	d.code = kitevisor.ExitFailure

	cfg, e := loadConfig(d.v, d.configFile)
	if e != nil {
		return fmt.Errorf("configuration: %w", e)
	}
	s, e := kitevisor.NewSupervisor(cfg)
	if e != nil {
		return e
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.SetMetrics(kitevisor.NewMetrics(reg))

	if kitevisor.JournalAvailable() {
		// Under systemd stderr ends up in the journal too.
		s.SetLogger(nil)
		s.AddLogSink(kitevisor.JournalSink{Identifier: "kitevisord"})
	}
	if d.prepare != nil {
		d.prepare(s)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if cfg.StatusAddr != "" {
		shutdown, e := d.serveStatus(cfg, s, reg)
		if e != nil {
			return fmt.Errorf("status API: %w", e)
		}
		defer shutdown()
	}

	d.code, e = s.Run(ctx)
	if errors.Is(e, kitevisor.ErrStopped) || errors.Is(e, context.Canceled) {
		return nil
	}
	var pe *kitevisor.ProxyExitError
	if errors.As(e, &pe) {
		// The proxy has already said why.
		return nil
	}
	return e
}

func (d *daemon) printConfig(cmd *cobra.Command, args []string) error {
	cfg, e := loadConfig(d.v, d.configFile)
	if e != nil {
		return e
	}
	b, e := marshalConfig(cfg)
	if e != nil {
		return e
	}
	_, e = cmd.OutOrStdout().Write(b)
	return e
}

func newRootCmd(d *daemon) *cobra.Command {
	root := &cobra.Command{
		Use:           "kitevisord",
		Short:         "Run a backend and a reverse proxy in one container",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          d.run,
	}
	root.PersistentFlags().StringVar(&d.configFile, "config", "", "configuration file")
	bindFlags(d.v, root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  d.printConfig,
	})
	return root
}

func main() {
	d := &daemon{v: newViper()}
	if e := newRootCmd(d).ExecuteContext(context.Background()); e != nil {
		log.Printf("kitevisord: %v", e)
		if d.code == kitevisor.ExitOK {
			d.code = kitevisor.ExitCode(e)
		}
	}
	os.Exit(d.code)
}

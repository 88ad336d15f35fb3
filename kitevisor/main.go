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


// Command kitevisor is a client for a running kitevisord.  It uses
// subcommands.
//
// The flags are
//
//	-a <address>	- the kitevisord status API, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth, needed
//			  by stop and by any kitevisord with statusAuth set
//
// Subcommands are
//
//	status [-w]	- show both processes, -w to keep watching
//	info <process>	- show details of the backend or the proxy
//	log [-f]	- print the supervisor log, -f to follow it
//	health		- check health, exits non-zero when unhealthy
//	stop		- ask the supervisor to shut down
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kitecobra/kitevisor"
	"github.com/kitecobra/kitevisor/kitevisor/util"
	"github.com/kitecobra/kitevisor/rest"
)

const defaultAddr = "http://127.0.0.1:8321"

// pollSecs is how long each long poll may be held by the server.
const pollSecs = 60

var errUnhealthy = errors.New("Unhealthy")

type cli struct {
	addr   string
	auth   string
	client *rest.Client
}

func (c *cli) connect(cmd *cobra.Command, args []string) error {
	c.client = rest.NewClient(nil, c.addr)
	if c.auth != "" {
		user, pass, e := rest.ParseAuth(c.auth)
		if e != nil {
			return e
		}
		c.client.SetAuth(user, pass)
	}
	return nil
}

func showStatus(w io.Writer, st *rest.StatusInfo) {
	fmt.Fprintf(w, "%s: %s (up %s)\n", st.Name, st.Phase,
		util.FormatDuration(time.Since(st.CreateTime)))

	procs := []*kitevisor.ProcessInfo{&st.Backend, &st.Proxy}
	util.SortProcesses(procs)

	table := tablewriter.NewWriter(w)
	table.Header("Role", "Name", "Pid", "State", "Since", "Detail")
	for _, p := range procs {
		pid := "-"
		if p.Pid > 0 {
			pid = fmt.Sprint(p.Pid)
		}
		table.Append(
			p.Role,
			p.Name,
			pid,
			util.Status(p),
			util.FormatDuration(time.Since(p.TimeStamp)),
			p.Status,
		)
	}
	table.Render()
}

func (c *cli) status(cmd *cobra.Command, watch bool) error {
	ctx := cmd.Context()
	st, e := c.client.GetStatus(ctx)
	if e != nil {
		return e
	}
	showStatus(cmd.OutOrStdout(), st)
	for watch && st.Phase != kitevisor.PhaseExited {
		next, e := c.client.WatchStatus(ctx, st, pollSecs)
		if e != nil {
			return e
		}
		if next != st {
			fmt.Fprintln(cmd.OutOrStdout())
			showStatus(cmd.OutOrStdout(), next)
		}
		st = next
	}
	return nil
}

func (c *cli) info(cmd *cobra.Command, name string) error {
	p, e := c.client.GetProcess(cmd.Context(), name)
	if e != nil {
		return e
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Property", "Value")
	table.Append([]string{"Name", p.Name})
	table.Append([]string{"Role", p.Role})
	table.Append([]string{"Command", strings.Join(p.Command, " ")})
	table.Append([]string{"State", util.Status(&p.ProcessInfo)})
	table.Append([]string{"Detail", p.Status})
	if p.Pid > 0 {
		table.Append([]string{"Pid", fmt.Sprint(p.Pid)})
	}
	if !p.Started.IsZero() {
		table.Append([]string{"Started", p.Started.Format(time.RFC3339)})
	}
	if !p.Exited.IsZero() {
		table.Append([]string{"Exited", p.Exited.Format(time.RFC3339)})
		table.Append([]string{"Exit code", fmt.Sprint(p.ExitCode)})
	}
	if u := p.Usage; u != nil {
		table.Append([]string{"Memory", util.FormatBytes(u.RSS)})
		table.Append([]string{"CPU", fmt.Sprintf("%.1f%%", u.CPUPercent)})
	}
	table.Render()
	return nil
}

func (c *cli) log(cmd *cobra.Command, follow bool) error {
	ctx := cmd.Context()
	l, e := c.client.GetLog(ctx)
	if e != nil {
		return e
	}
	var last int64
	show := func(l *rest.LogInfo) {
		for _, r := range l.Records {
			// The log is a ring, so anything older was already shown.
			if r.Id <= last {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
				r.Time.Format("Jan _2 15:04:05"), r.Text)
			last = r.Id
		}
	}
	show(l)
	for follow {
		if l, e = c.client.WatchLog(ctx, l, pollSecs); e != nil {
			return e
		}
		show(l)
	}
	return nil
}

func (c *cli) health(cmd *cobra.Command) error {
	h, e := c.client.Health(cmd.Context())
	if e != nil {
		return e
	}
	if !h.Healthy {
		fmt.Fprintf(cmd.OutOrStdout(), "unhealthy (%s)\n", h.Phase)
		return errUnhealthy
	}
	fmt.Fprintln(cmd.OutOrStdout(), "healthy")
	return nil
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:               "kitevisor",
		Short:             "Query a running kitevisord",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.connect,
	}
	root.PersistentFlags().StringVarP(&c.addr, "address", "a", defaultAddr, "kitevisord address")
	root.PersistentFlags().StringVarP(&c.auth, "user", "u", "", "user:pass authentication")

	var watch bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backend and proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.status(cmd, watch)
		},
	}
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep watching for changes")

	infoCmd := &cobra.Command{
		Use:   "info <process>",
		Short: "Show details of one process, by role or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.info(cmd, args[0])
		},
	}

	var follow bool
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Print the supervisor log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.log(cmd, follow)
		},
	}
	logCmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the log")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that both processes are running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.health(cmd)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Shut the supervisor down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.client.Stop(cmd.Context())
		},
	}

	root.AddCommand(statusCmd, infoCmd, logCmd, healthCmd, stopCmd)
	return root
}

func main() {
	root := newRootCmd()
	if e := root.ExecuteContext(context.Background()); e != nil {
		if !errors.Is(e, errUnhealthy) {
			fmt.Fprintf(os.Stderr, "Failed: %v\n", e)
		}
		os.Exit(1)
	}
}

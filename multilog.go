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
	"io"
	"log"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
)

// MultiLogger fans each logged line out to a set of sinks.  The sinks see
// whole lines, each terminated by a newline, and can be added or removed
// while logging is in progress.  Logger() returns a log.Logger writing into
// the MultiLogger; it carries no flags, so timestamps are left to the sinks.
type MultiLogger struct {
	log   *log.Logger
	sinks []io.Writer
	lock  sync.Mutex
}

// Write implements io.Writer.  The input is split at newlines, and each
// line is delivered to every sink.  Sink errors are ignored, since there is
// nowhere left to report them.
func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.Trim(string(b), "\n"), "\n")
	l.lock.Lock()
	for _, line := range lines {
		for _, w := range l.sinks {
			io.WriteString(w, line+"\n")
		}
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddSink adds a destination.  Adding the same sink twice has no effect.
func (l *MultiLogger) AddSink(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.sinks {
		if x == w {
			return
		}
	}
	l.sinks = append(l.sinks, w)
}

// DelSink removes a destination previously added with AddSink.
func (l *MultiLogger) DelSink(w io.Writer) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, x := range l.sinks {
		if x == w {
			l.sinks = append(l.sinks[:i], l.sinks[i+1:]...)
			break
		}
	}
}

// AddLogger adds a log.Logger as a sink, keeping its own prefix and flags.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.AddSink(loggerSink{logger})
}

// DelLogger removes a log.Logger added with AddLogger.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.DelSink(loggerSink{logger})
}

func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}

type loggerSink struct {
	l *log.Logger
}

func (s loggerSink) Write(b []byte) (int, error) {
	s.l.Print(string(b))
	return len(b), nil
}

// JournalSink forwards lines to the systemd journal.
type JournalSink struct {
	Identifier string
}

func (j JournalSink) Write(b []byte) (int, error) {
	vars := map[string]string{}
	if j.Identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = j.Identifier
	}
	msg := strings.TrimRight(string(b), "\n")
	if e := journal.Send(msg, journal.PriInfo, vars); e != nil {
		return 0, e
	}
	return len(b), nil
}

// JournalAvailable reports whether a journal socket is present.
func JournalAvailable() bool {
	return journal.Enabled()
}

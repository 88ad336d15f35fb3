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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is a single line of supervisor output.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a fixed size ring of LogRecords.  It implements io.Writer, so
// it can sit behind a log.Logger.  Every write bumps an id, which clients
// can use as an Etag to avoid refetching unchanged logs.
type Log struct {
	records []LogRecord
	next    int // total lines written; next slot is next % len(records)
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

// Write implements io.Writer.  Each newline separated line becomes one
// record.
func (l *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	now := time.Now()
	l.mx.Lock()
	for _, line := range strings.Split(str, "\n") {
		slot := &l.records[l.next%len(l.records)]
		l.id++
		slot.Id = l.id
		slot.Time = now
		slot.Text = line
		l.next++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// Clear discards all records.  The id is reset to the current time, so
// that an Etag held by a client cannot match anymore.
func (l *Log) Clear() {
	l.mx.Lock()
	l.next = 0
	l.id = time.Now().UnixNano()
	l.mx.Unlock()
}

// Records returns the stored records, oldest first, together with the
// current id.  If last equals the current id, nothing has changed and nil
// is returned.
func (l *Log) Records(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.next
	if cnt > len(l.records) {
		cnt = len(l.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		recs = append(recs, l.records[i%len(l.records)])
	}
	return recs, l.id
}

// Watch blocks until the log id differs from last, or until expire has
// elapsed.  An expire of zero just polls.  It returns the current id.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	return watchCond(&l.mx, l.cvs, func() int64 { return l.id }, last, expire)
}

// NewLog returns a Log holding at most max records.  A max of zero
// selects MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, max),
		id:      time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
}

// watchCond waits on a fresh condition variable registered in cvs until
// get() != old or the expiration fires.  mx must be the lock protecting
// both cvs and the value returned by get.
func watchCond(mx *sync.Mutex, cvs map[*sync.Cond]bool, get func() int64,
	old int64, expire time.Duration) int64 {

	expired := false
	cv := sync.NewCond(mx)
	var timer *time.Timer
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			mx.Lock()
			expired = true
			cv.Broadcast()
			mx.Unlock()
		})
	} else {
		expired = true
	}

	mx.Lock()
	cvs[cv] = true
	rv := get()
	for rv == old && !expired {
		cv.Wait()
		rv = get()
	}
	delete(cvs, cv)
	mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kitecobra/kitevisor"
)

// StatusInfo is the supervisor state as last fetched by a Client.
type StatusInfo struct {
	kitevisor.Info
	etag string
}

// LogInfo is the supervisor log as last fetched by a Client.
type LogInfo struct {
	etag    string
	Records []kitevisor.LogRecord
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader("")
	}
	req, e := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if e != nil {
		return nil, e
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain") // we don't really care
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

// do issues the request and decodes a JSON body into v for any of the
// accepted status codes.  Other codes come back as *Error.
func (c *Client) do(req *http.Request, v interface{}, accept ...int) (*http.Response, error) {
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return nil, e
	}
	for _, code := range accept {
		if res.StatusCode != code {
			continue
		}
		if v != nil && len(body) != 0 {
			if e := json.Unmarshal(body, v); e != nil {
				return nil, e
			}
		}
		return res, nil
	}
	err := &Error{Code: res.StatusCode, Message: res.Status}
	json.Unmarshal(body, err)
	return nil, err
}

// poll issues an HTTP GET against the path, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, path string, etag string, wait int, v interface{}) (string, error) {
	req, e := c.newRequest(ctx, http.MethodGet, path)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.do(req, v, http.StatusOK, http.StatusNotModified)
	if e != nil {
		return "", e
	}
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	return res.Header.Get("Etag"), nil
}

// GetStatus fetches the current supervisor state.
func (c *Client) GetStatus(ctx context.Context) (*StatusInfo, error) {
	return c.WatchStatus(ctx, nil, 0)
}

// WatchStatus waits up to secs seconds for the state to differ from last,
// and returns the new state, or last if nothing changed.  A nil last
// fetches the state without waiting.
func (c *Client) WatchStatus(ctx context.Context, last *StatusInfo, secs int) (*StatusInfo, error) {
	otag := ""
	if last != nil {
		otag = last.etag
	}
	v := &StatusInfo{}
	etag, e := c.poll(ctx, "/status", otag, secs, &v.Info)
	if e != nil {
		return nil, e
	}
	if etag == "" && last != nil {
		return last, nil
	}
	v.etag = etag
	return v, nil
}

func (c *Client) GetProcess(ctx context.Context, name string) (*ProcessInfo, error) {
	v := &ProcessInfo{}
	if _, e := c.poll(ctx, "/processes/"+url.PathEscape(name), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) GetLog(ctx context.Context) (*LogInfo, error) {
	return c.WatchLog(ctx, nil, 0)
}

// WatchLog is like WatchStatus, but for the log.
func (c *Client) WatchLog(ctx context.Context, last *LogInfo, secs int) (*LogInfo, error) {
	otag := ""
	if last != nil {
		otag = last.etag
	}
	v := &LogInfo{}
	etag, e := c.poll(ctx, "/log", otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" && last != nil {
		return last, nil
	}
	v.etag = etag
	return v, nil
}

// Health reports whether the supervisor considers itself healthy.  An
// unhealthy supervisor is not an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, e := c.newRequest(ctx, http.MethodGet, "/healthz")
	if e != nil {
		return nil, e
	}
	v := &Health{}
	if _, e := c.do(req, v, http.StatusOK, http.StatusServiceUnavailable); e != nil {
		return nil, e
	}
	return v, nil
}

// Stop asks the supervisor to shut down.  It does not wait for it.
func (c *Client) Stop(ctx context.Context) error {
	req, e := c.newRequest(ctx, http.MethodPost, "/stop")
	if e != nil {
		return e
	}
	_, e = c.do(req, nil, http.StatusOK)
	return e
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{},
	}
	if t != nil {
		c.client.Transport = t
	}
	return c
}

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
)

const defaultPublicDomain = "kitecobra-production.up.railway.app"

// DeploymentDefaults returns the variables that must be present in the
// environment of the children, given the supervisor's own environment.
// Only variables that are not already set are returned.
func DeploymentDefaults(environ []string) []string {
	lookup := envMap(environ)
	var rv []string
	add := func(k, v string) {
		if _, ok := lookup[k]; !ok {
			rv = append(rv, k+"="+v)
		}
	}
	add("BACKEND_HOST", "0.0.0.0")
	add("PYTHONUNBUFFERED", "1")
	add("PORT", "8080")
	if lookup["RAILWAY_ENVIRONMENT"] == "production" {
		domain := lookup["RAILWAY_PUBLIC_DOMAIN"]
		if domain == "" {
			domain = defaultPublicDomain
		}
		add("API_URL", "https://"+domain)
	}
	return rv
}

// MergeEnv combines environment lists.  Later entries override earlier
// ones with the same key; the order of first appearance is kept.
func MergeEnv(lists ...[]string) []string {
	index := make(map[string]int)
	var rv []string
	for _, l := range lists {
		for _, kv := range l {
			k := kv
			if i := strings.IndexByte(kv, '='); i >= 0 {
				k = kv[:i]
			}
			if i, ok := index[k]; ok {
				rv[i] = kv
				continue
			}
			index[k] = len(rv)
			rv = append(rv, kv)
		}
	}
	return rv
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

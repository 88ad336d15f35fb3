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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDeploymentDefaults(t *testing.T) {
	Convey("Defaults fill only what is missing", t, func() {
		env := DeploymentDefaults([]string{"PORT=9000"})
		So(env, ShouldContain, "BACKEND_HOST=0.0.0.0")
		So(env, ShouldContain, "PYTHONUNBUFFERED=1")
		So(env, ShouldNotContain, "PORT=8080")
		for _, kv := range env {
			So(kv, ShouldNotStartWith, "API_URL=")
		}
	})

	Convey("Production derives the public API URL", t, func() {
		env := DeploymentDefaults([]string{"RAILWAY_ENVIRONMENT=production"})
		So(env, ShouldContain,
			"API_URL=https://kitecobra-production.up.railway.app")

		env = DeploymentDefaults([]string{
			"RAILWAY_ENVIRONMENT=production",
			"RAILWAY_PUBLIC_DOMAIN=kite.example.org",
		})
		So(env, ShouldContain, "API_URL=https://kite.example.org")

		env = DeploymentDefaults([]string{
			"RAILWAY_ENVIRONMENT=production",
			"API_URL=https://elsewhere",
		})
		So(env, ShouldNotContain, "API_URL=https://kitecobra-production.up.railway.app")
	})
}

func TestMergeEnv(t *testing.T) {
	Convey("Later lists override earlier ones in place", t, func() {
		env := MergeEnv(
			[]string{"A=1", "B=2"},
			[]string{"C=3", "A=4"},
			nil,
			[]string{"B=5", "NOVALUE"},
		)
		So(env, ShouldResemble, []string{"A=4", "B=5", "C=3", "NOVALUE"})
	})
}

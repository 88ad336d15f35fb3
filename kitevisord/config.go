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


package main

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kitecobra/kitevisor"
)

// EnvPrefix prefixes environment overrides, as in KITEVISOR_READINESS_DELAY.
const EnvPrefix = "KITEVISOR"

// newViper returns a viper instance that knows every configuration key,
// with the built-in defaults, and that honors environment overrides.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, kitevisor.DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setCommandDefaults(v *viper.Viper, key string, c kitevisor.Command) {
	v.SetDefault(key+".name", c.Name)
	v.SetDefault(key+".path", c.Path)
	v.SetDefault(key+".args", c.Args)
	v.SetDefault(key+".env", c.Env)
	v.SetDefault(key+".dir", c.Dir)
	v.SetDefault(key+".stopTime", c.StopTime)
	v.SetDefault(key+".attach", c.Attach)
}

func setDefaults(v *viper.Viper, cfg kitevisor.Config) {
	v.SetDefault("name", cfg.Name)
	setCommandDefaults(v, "backend", cfg.Backend)
	setCommandDefaults(v, "proxy", cfg.Proxy)
	r := cfg.Readiness
	v.SetDefault("readiness.delay", r.Delay)
	v.SetDefault("readiness.probe", r.Probe)
	v.SetDefault("readiness.address", r.Address)
	v.SetDefault("readiness.timeout", r.Timeout)
	v.SetDefault("readiness.interval", r.Interval)
	v.SetDefault("readiness.maxInterval", r.MaxInterval)
	v.SetDefault("readiness.attemptTimeout", r.AttemptTimeout)
	v.SetDefault("monitor", cfg.Monitor)
	v.SetDefault("statusAddr", cfg.StatusAddr)
	v.SetDefault("statusAuth", cfg.StatusAuth)
}

// bindFlags adds the flags that override configuration keys.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("status-addr", "", "serve the status API on this address")
	v.BindPFlag("statusAddr", fs.Lookup("status-addr"))
}

// loadConfig reads the configuration file, if one is given, or else looks
// for an optional kitevisor.{yaml,json,toml} in /etc/kitevisor and the
// current directory.  The result is validated.
func loadConfig(v *viper.Viper, file string) (kitevisor.Config, error) {
	var cfg kitevisor.Config
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("kitevisor")
		v.AddConfigPath("/etc/kitevisor")
		v.AddConfigPath(".")
	}
	if e := v.ReadInConfig(); e != nil {
		var nf viper.ConfigFileNotFoundError
		if file != "" || !errors.As(e, &nf) {
			return cfg, e
		}
	}
	if e := v.Unmarshal(&cfg); e != nil {
		return cfg, e
	}
	if e := cfg.Validate(); e != nil {
		return cfg, e
	}
	return cfg, nil
}

func marshalConfig(cfg kitevisor.Config) ([]byte, error) {
	return yaml.Marshal(&cfg)
}

// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// A Config is the contents of the --config file.
type Config struct {
	CacheDir      string        `yaml:"cacheDir"`
	LogLevel      string        `yaml:"logLevel"`
	MaxEntries    int           `yaml:"maxEntries"`
	KeepUnused    time.Duration `yaml:"keepUnused"`
	BuildIDPrefix string        `yaml:"buildIdPrefix"`
	StackQuota    int           `yaml:"stackQuota"`
}

func readConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config %s", filename)
	}
	return cfg, nil
}

// apply sets each option of input that was not given in flags from
// cfg.
func (cfg *Config) apply(input *Input, flags *pflag.FlagSet) {
	set := func(flag string, f func()) {
		if !flags.Changed(flag) {
			f()
		}
	}
	if cfg.CacheDir != "" {
		set("cache-dir", func() { input.cacheDir = cfg.CacheDir })
	}
	if cfg.LogLevel != "" {
		set("log-level", func() { input.logLevel = cfg.LogLevel })
	}
	if cfg.MaxEntries != 0 {
		set("max-entries", func() { input.maxEntries = cfg.MaxEntries })
	}
	if cfg.KeepUnused != 0 {
		set("keep-unused", func() { input.keepUnused = cfg.KeepUnused })
	}
	if cfg.BuildIDPrefix != "" {
		set("build-id-prefix", func() { input.buildIDPrefix = cfg.BuildIDPrefix })
	}
	if cfg.StackQuota != 0 {
		set("stack-quota", func() { input.stackQuota = cfg.StackQuota })
	}
}

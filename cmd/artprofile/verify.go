// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ProjectBlaze-14/art/pkg/config"
	"github.com/ProjectBlaze-14/art/pkg/profile"
)

// VerifyCmd checks a profile file against a set of module descriptors,
// reporting any module whose recorded checksum/method count doesn't match
// what the descriptor expects.
type VerifyCmd struct {
	ProfileFile string   `arg:"" help:"Path to the profile file."`
	Descriptors []string `arg:"" help:"YAML module-descriptor files to verify against."`
	Boot        bool     `help:"Treat the profile as a boot-profile (15-flag) rather than regular (4-flag)."`
}

func (c *VerifyCmd) Run(logger log.Logger) error {
	s := profile.NewStore(logger, c.Boot)
	if err := s.LoadFile(c.ProfileFile); err != nil {
		return fmt.Errorf("loading %s: %w", c.ProfileFile, err)
	}

	var descriptors []config.ModuleDescriptor
	for _, path := range c.Descriptors {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("loading descriptor %s: %w", path, err)
		}
		descriptors = append(descriptors, cfg.Modules...)
	}

	providers := make(map[string]profile.ModuleProvider, len(descriptors))
	for _, d := range descriptors {
		providers[profile.BaseKey(d.Location)] = d.AsModuleProvider()
	}

	violations := profile.VerifyProfileData(s, providers)
	for _, v := range violations {
		level.Warn(logger).Log("msg", "verify violation", "location", v.Location, "kind", v.Kind, "detail", v.Detail)
	}

	if len(violations) > 0 {
		return fmt.Errorf("verify: %d violation(s) found", len(violations))
	}
	level.Info(logger).Log("msg", "verify passed", "descriptors", len(descriptors))
	return nil
}

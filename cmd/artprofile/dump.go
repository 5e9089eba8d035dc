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

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"

	"github.com/ProjectBlaze-14/art/pkg/profile"
)

// DumpCmd prints a human-readable summary of a profile file.
type DumpCmd struct {
	ProfileFile string `arg:"" help:"Path to the profile file (bare stream or zip-format archive)."`
	Boot        bool   `help:"Treat the file as a boot-profile (15-flag) rather than regular (4-flag)."`
}

func (c *DumpCmd) Run(logger log.Logger) error {
	s := profile.NewStore(logger, c.Boot)
	if err := s.LoadFile(c.ProfileFile); err != nil {
		return fmt.Errorf("loading %s: %w", c.ProfileFile, err)
	}

	fmt.Printf("profile: %s (boot=%v)\n", c.ProfileFile, c.Boot)
	for _, m := range s.Modules() {
		fmt.Printf("module %q checksum=%d methods=%d/%d classes=%d\n",
			m.ProfileKey(), m.Checksum(), len(m.MethodIndices()), m.NumMethodIDs(), len(m.ClassSetIndices()))
	}

	var total int
	for _, m := range s.Modules() {
		total += len(m.MethodIndices())
	}
	fmt.Printf("total hot methods: %s\n", humanize.Comma(int64(total)))
	return nil
}

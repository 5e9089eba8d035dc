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
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	okrun "github.com/oklog/run"

	"github.com/ProjectBlaze-14/art/pkg/profile"
)

// MergeCmd merges one or more profile files into a destination file,
// creating the destination if it doesn't already exist.
type MergeCmd struct {
	Out          string   `arg:"" help:"Destination profile file."`
	Files        []string `arg:"" help:"Profile files to merge into the destination."`
	Boot         bool     `help:"Treat every file as a boot-profile (15-flag) rather than regular (4-flag)."`
	MergeClasses bool     `default:"true" help:"Merge resolved class sets along with method hotness. Disable for boot-profile merges that want hotness only."`
}

func (c *MergeCmd) Run(logger log.Logger) error {
	dst := profile.NewStore(logger, c.Boot)
	if _, err := os.Stat(c.Out); err == nil {
		if err := dst.LoadFile(c.Out); err != nil {
			return fmt.Errorf("loading existing destination %s: %w", c.Out, err)
		}
	}

	// Merging every source is independent of the others, but Store.MergeWith
	// mutates dst, so a run.Group only buys us concurrent decode-into-a-
	// scratch-Store followed by a serial apply — decode concurrently, merge
	// serially.
	type decoded struct {
		path  string
		store *profile.Store
		err   error
	}
	results := make([]decoded, len(c.Files))

	var g okrun.Group
	for i, path := range c.Files {
		i, path := i, path
		g.Add(func() error {
			scratch := profile.NewStore(nil, c.Boot)
			if err := scratch.LoadFile(path); err != nil {
				results[i] = decoded{path: path, err: err}
				return nil
			}
			results[i] = decoded{path: path, store: scratch}
			return nil
		}, func(error) {})
	}
	if err := g.Run(); err != nil {
		return err
	}

	var mergedFiles, mergedModules int
	for _, r := range results {
		if r.err != nil {
			return fmt.Errorf("loading %s: %w", r.path, r.err)
		}
		if err := dst.MergeWith(r.store, c.MergeClasses); err != nil {
			return fmt.Errorf("merging %s: %w", r.path, err)
		}
		mergedFiles++
		mergedModules += len(r.store.Modules())
	}

	if err := dst.Save(c.Out); err != nil {
		return fmt.Errorf("saving %s: %w", c.Out, err)
	}

	level.Info(logger).Log("msg", "merge complete", "out", c.Out, "files", mergedFiles, "modules", humanize.Comma(int64(mergedModules)))
	return nil
}

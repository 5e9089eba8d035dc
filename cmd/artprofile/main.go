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

// Command artprofile inspects, merges, and verifies ART-style profile
// compilation files.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/common-nighthawk/go-figure"
	"github.com/go-kit/log/level"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ProjectBlaze-14/art/flags"
	"github.com/ProjectBlaze-14/art/pkg/buildinfo"
)

// cli holds the top-level CLI options shared by every artprofile
// subcommand.
type cli struct {
	Log flags.FlagsLogs `embed:"" prefix:"log-"`

	Dump   DumpCmd   `cmd:"" help:"Print a human-readable summary of a profile file."`
	Merge  MergeCmd  `cmd:"" help:"Merge one or more profile files into a destination file."`
	Verify VerifyCmd `cmd:"" help:"Check a profile file against module descriptors."`
}

func main() {
	c := cli{}
	kctx := kong.Parse(&c, kong.Name("artprofile"),
		kong.Description("Inspect, merge, and verify ART-style profile compilation files."),
		kong.UsageOnError(),
	)

	logger := c.Log.Logger()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		level.Debug(logger).Log("msg", fmt.Sprintf(format, a...))
	})); err != nil {
		level.Warn(logger).Log("msg", "failed to set GOMAXPROCS automatically", "err", err)
	}

	if strings.HasPrefix(kctx.Command(), "dump") {
		figure.NewColorFigure("artprofile", "small", "cyan", true).Print()
	}

	bi, err := buildinfo.FetchBuildInfo()
	if err != nil {
		level.Debug(logger).Log("msg", "could not read build info", "err", err)
	} else {
		level.Debug(logger).Log("msg", "starting", "revision", bi.VcsRevision)
	}

	if err := kctx.Run(logger); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

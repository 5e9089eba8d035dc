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

// Package flags defines the artprofile command-line log flags, shared by
// every subcommand.
package flags

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// FlagsLogs configures the go-kit logger used across every subcommand.
type FlagsLogs struct {
	Level  string `default:"info"   enum:"error,warn,info,debug" help:"Log level."`
	Format string `default:"logfmt" enum:"logfmt,json"           help:"Configure if structured logging as JSON or as logfmt."`
}

// Logger builds a go-kit logger from the configured level and format.
func (f FlagsLogs) Logger() log.Logger {
	var logger log.Logger
	if f.Format == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var opt level.Option
	switch f.Level {
	case "error":
		opt = level.AllowError()
	case "warn":
		opt = level.AllowWarn()
	case "debug":
		opt = level.AllowDebug()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}

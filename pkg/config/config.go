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

// Package config loads the module descriptors the artprofile verify
// subcommand checks a profile file against.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrEmptyConfig = errors.New("empty module descriptor config")

// ModuleDescriptor describes the expected shape of one module, so a
// profile's recorded checksum and method/class counts can be validated
// against what the module actually looks like on disk.
type ModuleDescriptor struct {
	Location     string `yaml:"location"`
	Checksum     uint32 `yaml:"checksum"`
	NumMethodIDs uint32 `yaml:"num_method_ids"`
	NumTypeIDs   uint32 `yaml:"num_type_ids,omitempty"`
	Annotation   string `yaml:"annotation,omitempty"`
}

// Config is a list of module descriptors.
type Config struct {
	Modules []ModuleDescriptor `yaml:"modules"`
}

// AsModuleProvider adapts d to the (location, checksum, num_method_ids,
// num_type_ids) module-provider shape consumed by a profile Store
// (spec.md §6), without pkg/config importing pkg/profile.
func (d ModuleDescriptor) AsModuleProvider() moduleProvider {
	return moduleProvider{d}
}

type moduleProvider struct{ d ModuleDescriptor }

func (p moduleProvider) Location() string     { return p.d.Location }
func (p moduleProvider) Checksum() uint32     { return p.d.Checksum }
func (p moduleProvider) NumMethodIDs() uint32 { return p.d.NumMethodIDs }
func (p moduleProvider) NumTypeIDs() uint32   { return p.d.NumTypeIDs }

func (c Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<error creating config string: %s>", err)
	}
	return string(b)
}

// Load parses the YAML input b into a Config.
func Load(b []byte) (*Config, error) {
	if len(b) == 0 {
		return nil, ErrEmptyConfig
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	return cfg, nil
}

// LoadFile parses the given YAML file into a Config.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(content)
	if err != nil {
		return nil, fmt.Errorf("parsing YAML file %s: %w", filename, err)
	}
	return cfg, nil
}

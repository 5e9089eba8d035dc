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

package profile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	location     string
	checksum     uint32
	numMethodIDs uint32
	numTypeIDs   uint32
}

func (p stubProvider) Location() string     { return p.location }
func (p stubProvider) Checksum() uint32     { return p.checksum }
func (p stubProvider) NumMethodIDs() uint32 { return p.numMethodIDs }
func (p stubProvider) NumTypeIDs() uint32   { return p.numTypeIDs }

func Test_VerifyProfileData_NoViolationsWhenConsistent(t *testing.T) {
	s := NewStore(nil, false)
	m, err := s.GetOrAddModule("classes.dex", NoAnnotation, 1, 10)
	require.NoError(t, err)
	require.NoError(t, m.AddMethod(FlagHot, 2))
	require.NoError(t, m.AddClasses(3))

	providers := map[string]ModuleProvider{
		"classes.dex": stubProvider{location: "classes.dex", checksum: 1, numMethodIDs: 10, numTypeIDs: 20},
	}
	require.Empty(t, VerifyProfileData(s, providers))
}

func Test_VerifyProfileData_ReportsMissingProvider(t *testing.T) {
	s := NewStore(nil, false)
	_, err := s.GetOrAddModule("classes.dex", NoAnnotation, 1, 10)
	require.NoError(t, err)

	violations := VerifyProfileData(s, map[string]ModuleProvider{})
	require.Len(t, violations, 1)
	require.Equal(t, "missing_provider", violations[0].Kind)
}

func Test_VerifyProfileData_ReportsChecksumAndMethodCountMismatch(t *testing.T) {
	s := NewStore(nil, false)
	_, err := s.GetOrAddModule("classes.dex", NoAnnotation, 1, 10)
	require.NoError(t, err)

	providers := map[string]ModuleProvider{
		"classes.dex": stubProvider{location: "classes.dex", checksum: 2, numMethodIDs: 99, numTypeIDs: 0},
	}
	violations := VerifyProfileData(s, providers)
	var kinds []string
	for _, v := range violations {
		kinds = append(kinds, v.Kind)
	}
	require.ElementsMatch(t, []string{"checksum", "num_method_ids"}, kinds)
}

func Test_VerifyProfileData_ReportsClassIndexOutOfRange(t *testing.T) {
	s := NewStore(nil, false)
	m, err := s.GetOrAddModule("classes.dex", NoAnnotation, 1, 10)
	require.NoError(t, err)
	require.NoError(t, m.AddClasses(5))

	providers := map[string]ModuleProvider{
		"classes.dex": stubProvider{location: "classes.dex", checksum: 1, numMethodIDs: 10, numTypeIDs: 3},
	}
	violations := VerifyProfileData(s, providers)
	require.Len(t, violations, 1)
	require.Equal(t, "class_index", violations[0].Kind)
}

func Test_VerifyProfileData_ReportsInlineCacheClassIndexAgainstTargetModule(t *testing.T) {
	s := NewStore(nil, false)
	owner, err := s.GetOrAddModule("owner.dex", NoAnnotation, 1, 10)
	require.NoError(t, err)
	target, err := s.GetOrAddModule("target.dex", NoAnnotation, 2, 10)
	require.NoError(t, err)

	require.NoError(t, owner.AddInlineCache(1, 0x10, []ClassReference{
		{ProfileIndex: target.ProfileIndex(), TypeIndex: 50},
	}, false, false))

	providers := map[string]ModuleProvider{
		"owner.dex":  stubProvider{location: "owner.dex", checksum: 1, numMethodIDs: 10, numTypeIDs: 0},
		"target.dex": stubProvider{location: "target.dex", checksum: 2, numMethodIDs: 10, numTypeIDs: 5},
	}
	violations := VerifyProfileData(s, providers)
	require.Len(t, violations, 1)
	require.Equal(t, "inline_cache_class_index", violations[0].Kind)
	require.Equal(t, "owner.dex", violations[0].Location)
}

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

func Test_ModuleData_AddMethodRangeChecks(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1234, 10, 0, false)
	require.Error(t, m.AddMethod(FlagHot, 10))
	require.NoError(t, m.AddMethod(FlagHot, 9))
}

func Test_ModuleData_HotMethodGetsEmptyInlineCacheEntry(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	require.NoError(t, m.AddMethod(FlagHot, 3))

	ic, ok := m.InlineCaches(3)
	require.True(t, ok)
	require.Equal(t, 0, ic.Len())
}

func Test_ModuleData_GetHotnessCombinesBitmapAndMethodMap(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	require.NoError(t, m.AddMethod(FlagHot|FlagStartup, 5))

	flags, err := m.GetHotness(5)
	require.NoError(t, err)
	require.Equal(t, FlagHot|FlagStartup, flags)

	flags, err = m.GetHotness(6)
	require.NoError(t, err)
	require.Zero(t, flags)
}

func Test_ModuleData_AddInlineCache(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	require.NoError(t, m.AddInlineCache(2, 40, []ClassReference{{ProfileIndex: 0, TypeIndex: 7}}, false, false))

	ic, ok := m.InlineCaches(2)
	require.True(t, ok)
	dpc, ok := ic.Get(40)
	require.True(t, ok)
	require.Equal(t, []ClassReference{{ProfileIndex: 0, TypeIndex: 7}}, dpc.Classes())

	// AddInlineCache does not imply FlagHot.
	flags, err := m.GetHotness(2)
	require.NoError(t, err)
	require.Zero(t, flags & FlagHot)
}

func Test_ModuleData_ClassSet(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	m.AddClasses(3, 1, 3, 2)

	require.True(t, m.ContainsClass(1))
	require.True(t, m.ContainsClass(2))
	require.False(t, m.ContainsClass(9))
	require.Equal(t, []uint16{1, 2, 3}, m.ClassSetIndices())
}

func Test_ModuleData_CloneIsIndependent(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	require.NoError(t, m.AddMethod(FlagHot, 1))
	m.AddClasses(1)

	cp := m.clone()
	require.NoError(t, cp.AddMethod(FlagHot, 2))
	cp.AddClasses(2)

	require.NotEqual(t, m.MethodIndices(), cp.MethodIndices())
	require.False(t, m.ContainsClass(2))
	require.True(t, m.equal(m))
	require.False(t, m.equal(cp))
}

func Test_ModuleData_AddClassesRangeChecksWhenBoundKnown(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 5, false)
	require.NoError(t, m.AddClasses(0, 4))
	require.Error(t, m.AddClasses(5))
}

func Test_ModuleData_AddClassesUnboundedWhenNumTypeIDsZero(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	require.NoError(t, m.AddClasses(9999))
}

func Test_ModuleData_SetNumTypeIDsIsSetOnce(t *testing.T) {
	m := newModuleData("classes.dex", 0, 1, 10, 0, false)
	m.SetNumTypeIDs(5)
	m.SetNumTypeIDs(100)
	require.Equal(t, uint32(5), m.NumTypeIDs())
}

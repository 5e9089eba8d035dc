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

func Test_DexPcData_AddClassSortsAndDedupes(t *testing.T) {
	d := NewDexPcData()
	d.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 5})
	d.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 1})
	d.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 5})

	require.Equal(t, []ClassReference{
		{ProfileIndex: 0, TypeIndex: 1},
		{ProfileIndex: 0, TypeIndex: 5},
	}, d.Classes())
}

func Test_DexPcData_MegamorphicThreshold(t *testing.T) {
	d := NewDexPcData()
	for i := uint16(0); i < individualInlineCacheSize; i++ {
		d.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: i})
	}
	require.False(t, d.IsMegamorphic())

	d.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: individualInlineCacheSize})
	require.True(t, d.IsMegamorphic())
	require.Empty(t, d.Classes())
}

func Test_DexPcData_MissingTypesWinsOverMegamorphic(t *testing.T) {
	d := NewDexPcData()
	d.SetMegamorphic()
	d.SetMissingTypes()
	require.True(t, d.IsMissingTypes())

	// Once missing-types is set, megamorphic cannot override it.
	d.SetMegamorphic()
	require.True(t, d.IsMissingTypes())
	require.False(t, d.IsMegamorphic())
}

func Test_DexPcData_AddClassNoopAfterSentinel(t *testing.T) {
	d := NewDexPcData()
	d.SetMegamorphic()
	d.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 1})
	require.Empty(t, d.Classes())
	require.True(t, d.IsMegamorphic())
}

func Test_MergeDexPcData_UnionUnderThreshold(t *testing.T) {
	dst := NewDexPcData()
	dst.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 1})
	src := NewDexPcData()
	src.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 2})

	mergeDexPcData(dst, src)
	require.Equal(t, []ClassReference{
		{ProfileIndex: 0, TypeIndex: 1},
		{ProfileIndex: 0, TypeIndex: 2},
	}, dst.Classes())
}

func Test_MergeDexPcData_MissingTypesIsSticky(t *testing.T) {
	dst := NewDexPcData()
	dst.SetMissingTypes()
	src := NewDexPcData()
	src.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 1})

	mergeDexPcData(dst, src)
	require.True(t, dst.IsMissingTypes())
}

func Test_InlineCacheMap_FindOrAddKeepsOrder(t *testing.T) {
	m := newInlineCacheMap()
	m.FindOrAdd(10)
	m.FindOrAdd(2)
	m.FindOrAdd(7)

	require.Equal(t, []uint16{2, 7, 10}, m.PCs())
}

func Test_InlineCacheMap_CloneIsIndependent(t *testing.T) {
	m := newInlineCacheMap()
	dpc := m.FindOrAdd(1)
	dpc.AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 1})

	cp := m.clone()
	cp.FindOrAdd(1).AddClass(ClassReference{ProfileIndex: 0, TypeIndex: 2})

	require.False(t, m.equal(cp))
	require.Len(t, dpc.Classes(), 1)
}

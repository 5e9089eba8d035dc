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

func Test_FlagBitmap_SetAndTest(t *testing.T) {
	b := newFlagBitmap(false, 10)
	require.NoError(t, b.Set(FlagStartup|Flag32Bit, 3))

	startup, err := b.Test(FlagStartup, 3)
	require.NoError(t, err)
	require.True(t, startup)

	postStartup, err := b.Test(FlagPostStartup, 3)
	require.NoError(t, err)
	require.False(t, postStartup)

	flags, err := b.Flags(3)
	require.NoError(t, err)
	require.Equal(t, FlagStartup|Flag32Bit, flags)
}

func Test_FlagBitmap_OutOfRange(t *testing.T) {
	b := newFlagBitmap(false, 4)
	require.Error(t, b.Set(FlagStartup, 4))
}

func Test_FlagBitmap_BootFlavorHasMorePlanes(t *testing.T) {
	b := newFlagBitmap(true, 4)
	require.NoError(t, b.Set(FlagStartupBin5, 0))
	set, err := b.Test(FlagStartupBin5, 0)
	require.NoError(t, err)
	require.True(t, set)
}

func Test_FlagBitmap_MergeIsByteWiseOR(t *testing.T) {
	a := newFlagBitmap(false, 8)
	b := newFlagBitmap(false, 8)
	require.NoError(t, a.Set(FlagStartup, 2))
	require.NoError(t, b.Set(Flag64Bit, 2))

	require.NoError(t, a.Merge(b))
	flags, err := a.Flags(2)
	require.NoError(t, err)
	require.Equal(t, FlagStartup|Flag64Bit, flags)
}

func Test_FlagBitmap_MergeRejectsMismatchedLayout(t *testing.T) {
	a := newFlagBitmap(false, 8)
	b := newFlagBitmap(true, 8)
	require.Error(t, a.Merge(b))

	c := newFlagBitmap(false, 16)
	require.Error(t, a.Merge(c))
}

func Test_FlagBitmap_MergeIdempotent(t *testing.T) {
	a := newFlagBitmap(false, 8)
	require.NoError(t, a.Set(FlagStartup, 1))
	before := a.clone()

	require.NoError(t, a.Merge(before))
	require.True(t, a.equal(before))
}

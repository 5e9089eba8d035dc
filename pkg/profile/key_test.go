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

func Test_BaseKey_StripsArchivePrefix(t *testing.T) {
	require.Equal(t, "classes2.dex", BaseKey("/data/app/base.apk!classes2.dex"))
	require.Equal(t, "/system/framework/boot.oat", BaseKey("/system/framework/boot.oat"))
}

func Test_AugmentedKey_RoundTrip(t *testing.T) {
	loc := "/data/app/base.apk!classes.dex"
	ann := Annotation{Package: "com.example.app"}

	key := AugmentedKey(loc, ann)
	require.Equal(t, "classes.dex", BaseKeyFromAugmented(key))
	require.Equal(t, ann, AnnotationFromKey(key))
}

func Test_AugmentedKey_NoAnnotationEqualsBaseKey(t *testing.T) {
	loc := "/system/framework/boot.oat"
	require.Equal(t, BaseKey(loc), AugmentedKey(loc, NoAnnotation))
	require.True(t, AnnotationFromKey(BaseKey(loc)).IsNone())
}

func Test_BaseKeyFromAugmented_NoSeparator(t *testing.T) {
	require.Equal(t, "plain.dex", BaseKeyFromAugmented("plain.dex"))
}

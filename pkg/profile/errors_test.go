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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_StatusOf(t *testing.T) {
	require.Equal(t, LoadSuccess, StatusOf(nil))
	require.Equal(t, LoadWouldOverwrite, StatusOf(ErrWouldOverwrite))
	require.Equal(t, LoadVersionMismatch, StatusOf(ErrVersionMismatch))
	require.Equal(t, LoadBadData, StatusOf(badData("header", errors.New("boom"))))
	require.Equal(t, LoadIOError, StatusOf(errors.New("disk on fire")))
}

func Test_BadDataError_Unwraps(t *testing.T) {
	inner := errors.New("truncated")
	err := badData("methods", inner)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "methods")
}

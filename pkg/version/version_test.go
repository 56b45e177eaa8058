// Copyright 2022 The jackal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSemanticVersion_Accessors(t *testing.T) {
	v := NewVersion(1, 9, 2)

	require.Equal(t, uint(1), v.Major())
	require.Equal(t, uint(9), v.Minor())
	require.Equal(t, uint(2), v.Patch())
	require.Equal(t, "v1.9.2", v.String())
}

func TestSemanticVersion_Compare(t *testing.T) {
	base := NewVersion(1, 9, 2)

	tcs := map[string]struct {
		other   *SemanticVersion
		less    bool
		greater bool
	}{
		"same":        {other: NewVersion(1, 9, 2)},
		"newer patch": {other: NewVersion(1, 9, 3), less: true},
		"newer minor": {other: NewVersion(1, 10, 0), less: true},
		"newer major": {other: NewVersion(2, 0, 0), less: true},
		"older patch": {other: NewVersion(1, 9, 1), greater: true},
		"older minor": {other: NewVersion(1, 8, 9), greater: true},
		"older major": {other: NewVersion(0, 99, 99), greater: true},
	}
	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			equal := !tc.less && !tc.greater

			require.Equal(t, equal, base.IsEqual(tc.other))
			require.Equal(t, tc.less, base.IsLess(tc.other))
			require.Equal(t, tc.greater, base.IsGreater(tc.other))
			require.Equal(t, tc.less || equal, base.IsLessOrEqual(tc.other))
			require.Equal(t, tc.greater || equal, base.IsGreaterOrEqual(tc.other))
		})
	}
	require.True(t, base.IsEqual(base))
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bonding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortedNaturalKeyOrder(t *testing.T) {
	input := map[string]map[string]string{
		"10": {"mode": "0"},
		"2":  {"mode": "0"},
		"1":  {"mode": "0"},
	}

	out, err := MarshalSorted(input)
	require.NoError(t, err)

	// Natural ordering puts "2" before "10", unlike lexicographic sort.
	idx1 := indexOf(t, string(out), `"1"`)
	idx2 := indexOf(t, string(out), `"2"`)
	idx10 := indexOf(t, string(out), `"10"`)
	assert.Less(t, idx1, idx2)
	assert.Less(t, idx2, idx10)
}

func TestMarshalSortedDeterministic(t *testing.T) {
	input := map[string]map[string]string{
		"0": {"zeta": "1", "alpha": "2"},
		"1": {"beta": "3"},
	}

	first, err := MarshalSorted(input)
	require.NoError(t, err)
	second, err := MarshalSorted(input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	t.Fatalf("substring %q not found in %q", needle, haystack)
	return -1
}

package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferenceListSoundness(t *testing.T) {
	// P1: |preferenceList(k)| = nreplicas, members distinct.
	cases := []struct {
		nservers, nreplicas int
	}{
		{3, 3}, {3, 2}, {3, 1}, {5, 3}, {10, 1},
	}
	keys := []string{"5", "0", "apple", "999999", "zzz", ""}

	for _, c := range cases {
		table := New(c.nservers, c.nreplicas)
		for _, key := range keys {
			list := table.PreferenceList(key)
			require.Len(t, list, c.nreplicas)

			seen := make(map[int]bool, len(list))
			for _, id := range list {
				assert.False(t, seen[id], "duplicate id %d in preference list for key %q", id, key)
				seen[id] = true
				assert.True(t, id >= 0 && id < c.nservers)
			}
		}
	}
}

func TestPreferenceListStartsAtPrimary(t *testing.T) {
	table := New(5, 3)
	key := "7"
	primary := table.Primary(key)
	list := table.PreferenceList(key)
	assert.Equal(t, primary, list[0])
}

func TestPreferenceListContiguousModular(t *testing.T) {
	// S2: nservers=3, nreplicas=2, primary for "5" is 2 -> replicas {2, 0}.
	table := New(3, 2)
	assert.Equal(t, 2, table.Primary("5"))
	assert.Equal(t, []int{2, 0}, table.PreferenceList("5"))
	assert.False(t, table.InPreferenceList("5", 1))
	assert.True(t, table.InPreferenceList("5", 2))
	assert.True(t, table.InPreferenceList("5", 0))
}

func TestHashKeyNonNumericUsesCodePoint(t *testing.T) {
	// S6: Put("apple", ...) uses code point of 'a' (97).
	table := New(200, 1)
	assert.Equal(t, 97%200, table.Primary("apple"))
}

func TestHashKeyNumericParsesAsInteger(t *testing.T) {
	table := New(7, 1)
	assert.Equal(t, 123%7, table.Primary("123"))
}

func TestHashKeyNegativeFallsBackToCodePoint(t *testing.T) {
	// "-5" does not parse as a non-negative integer, so we fall back to the
	// code point of its first character, '-' (45).
	table := New(50, 1)
	assert.Equal(t, 45%50, table.Primary("-5"))
}

package relsync

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffAddsAndRemoves(t *testing.T) {
	delta := Diff([]int64{1, 2}, []int64{2, 3})
	assert.Equal(t, []int64{3}, delta.ToAdd)
	assert.Equal(t, []int64{1}, delta.ToRemove)
}

func TestDiffIgnoresOrderAndDuplicates(t *testing.T) {
	delta := Diff([]int64{3, 1, 1, 2}, []int64{2, 3, 3, 1})
	assert.True(t, delta.Empty())
}

func TestDiffAgainstItselfIsEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		ids := randomIDs(rng)
		delta := Diff(ids, ids)
		assert.Empty(t, delta.ToAdd)
		assert.Empty(t, delta.ToRemove)
	}
}

func TestDiffSetLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		previous := randomIDs(rng)
		next := randomIDs(rng)
		delta := Diff(previous, next)

		removed := toSet(delta.ToRemove)
		for _, id := range delta.ToAdd {
			_, clash := removed[id]
			require.False(t, clash, "id %d both added and removed", id)
		}

		applied := append(append([]int64{}, previous...), delta.ToAdd...)
		result := make([]int64, 0, len(applied))
		for _, id := range applied {
			if _, drop := removed[id]; !drop {
				result = append(result, id)
			}
		}
		require.True(t, SameSet(result, next), "previous=%v next=%v delta=%+v", previous, next, delta)
	}
}

func TestUniqueKeepsFirstOccurrence(t *testing.T) {
	assert.Equal(t, []int64{4, 1, 9}, Unique([]int64{4, 1, 4, 9, 1}))
}

func TestWithAndWithoutID(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, withID([]int64{1, 2}, 3))
	assert.Equal(t, []int64{1, 2}, withID([]int64{1, 2, 2}, 2))
	assert.Equal(t, []int64{1}, withoutID([]int64{1, 2, 2}, 2))
	assert.Equal(t, []int64{}, withoutID(nil, 2))
}

func randomIDs(rng *rand.Rand) []int64 {
	n := rng.Intn(8)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, int64(rng.Intn(10)))
	}
	return ids
}

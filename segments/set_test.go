package segments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringSet(t *testing.T) {
	s := newStringSet("a", "b")
	assert.True(t, s.has("a"))
	assert.False(t, s.has("c"))

	s.add("c")
	assert.True(t, s.has("c"))

	other := newStringSet("c", "d")
	u := s.union(other)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, u.sorted())
	// union does not mutate its operands
	assert.Len(t, s, 3)
	assert.Len(t, other, 2)

	assert.True(t, newStringSet("a", "b").subsetOf(s))
	assert.False(t, newStringSet("a", "z").subsetOf(s))
	assert.True(t, newStringSet().subsetOf(newStringSet()))

	assert.Equal(t, 1, s.intersectCount(other))
	assert.Equal(t, []string{"a", "b"}, s.difference(other).sorted())
	assert.Equal(t, []string{"a", "b", "c"}, s.sorted())
}

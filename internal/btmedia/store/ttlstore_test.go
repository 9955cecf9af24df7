package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_GetSetDelete(t *testing.T) {
	s := New[string, int]()

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Set("a", 1)
	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestStore_ForEach(t *testing.T) {
	s := New[string, int]()
	s.Set("a", 1)
	s.Set("b", 2)
	s.Set("c", 3)

	seen := map[string]int{}
	s.ForEach(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)

	var visited int
	s.ForEach(func(k string, v int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited, "ForEach must stop early when fn returns false")
}

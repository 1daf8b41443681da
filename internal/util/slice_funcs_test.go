package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReverse(t *testing.T) {
	in := []string{"test", "docker", "webserver"}
	assert.Equal(t, []string{"webserver", "docker", "test"}, Reverse(in))
	assert.Equal(t, []string{"test", "docker", "webserver"}, in)
	assert.Empty(t, Reverse([]int{}))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, Chunk([]int{}, 3))
}

func TestMapFilter(t *testing.T) {
	doubled := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	assert.Equal(t, []int{2, 4, 6}, doubled)
	assert.Equal(t, []int{4, 6}, Filter(doubled, func(v int) bool { return v > 2 }))
}

package random_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stack/woodpeckers/internal/random"
)

func TestWaitIntervalIsHalfOpen(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := random.WaitInterval(1000, 4000)
		assert.GreaterOrEqual(t, v, uint32(1000))
		assert.Less(t, v, uint32(4000))
	}
}

func TestWaitIntervalDegenerateRange(t *testing.T) {
	assert.Equal(t, uint32(5), random.WaitInterval(5, 5))
	assert.Equal(t, uint32(5), random.WaitInterval(5, 3))
}

func TestPeckCountIsInclusive(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 2000; i++ {
		v := random.PeckCount(1, 3)
		assert.GreaterOrEqual(t, v, uint32(1))
		assert.LessOrEqual(t, v, uint32(3))
		seen[v] = true
	}
	assert.True(t, seen[3], "PeckCount(1, 3) should reach the inclusive upper bound 3")
}

func TestPeckCountDegenerateRange(t *testing.T) {
	assert.Equal(t, uint32(2), random.PeckCount(2, 2))
	assert.Equal(t, uint32(2), random.PeckCount(2, 1))
}

package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePairPriorityControllingIsG(t *testing.T) {
	// RFC 8445 §6.1.2.3: priority = 2^32*min(G,D) + 2*max(G,D) + (G>D?1:0)
	p1 := computePairPriority(10, 5, true)
	var g, d uint64 = 10, 5
	want := (uint64(1)<<32)*d + 2*g + 1
	assert.Equal(t, want, p1)
}

func TestComputePairPriorityControlledSwapsRoles(t *testing.T) {
	controlling := computePairPriority(10, 5, true)
	controlled := computePairPriority(10, 5, false)
	assert.NotEqual(t, controlling, controlled)
}

func TestComputePairPriorityTieBreak(t *testing.T) {
	p := computePairPriority(7, 7, true)
	want := (uint64(1)<<32)*7 + 2*7
	assert.Equal(t, want, p)
}

func TestPairStateString(t *testing.T) {
	assert.Equal(t, "frozen", Frozen.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "failed", Failed.String())
}

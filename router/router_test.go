package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectRouter(t *testing.T) {
	r := New(1)
	assert.IsType(t, DirectRouter{}, r)
	assert.Equal(t, 0, r.Route("anything"))
	assert.Equal(t, 1, r.Size())
}

func TestShardedRouter(t *testing.T) {
	r := New(3)
	assert.Equal(t, 3, r.Size())

	hits := make([]int, 3)
	for i := 0; i < 3000; i++ {
		key := fmt.Sprintf("key-%d", i)
		shard := r.Route(key)
		assert.Equal(t, shard, r.Route(key), "routing must be deterministic")
		hits[shard]++
	}
	for shard, n := range hits {
		assert.Greater(t, n, 500, "shard %d barely used", shard)
	}
}

package router

import (
	"hash/fnv"

	"github.com/dgryski/go-jump"
)

type ShardedRouter struct {
	shards int
}

func NewShardedRouter(shards int) *ShardedRouter {
	return &ShardedRouter{shards: shards}
}

func stringToUint64(s string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(s))
	return hasher.Sum64()
}

func (r *ShardedRouter) Route(key string) int {
	return int(jump.Hash(stringToUint64(key), r.shards))
}

func (r *ShardedRouter) Size() int {
	return r.shards
}

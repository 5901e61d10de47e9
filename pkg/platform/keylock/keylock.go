// Package keylock provides fine-grained per-key locking using sharded mutexes.
package keylock

import "sync"

// ShardedMutex distributes locks across N shards based on a hash of the key,
// so concurrent read-modify-write sequences on the same key serialize without
// globally serializing unrelated keys.
type ShardedMutex struct {
	shards [32]sync.Mutex
}

// New creates a ShardedMutex with 32 shards.
func New() *ShardedMutex {
	return &ShardedMutex{}
}

// Lock acquires the lock for the given key's shard.
// Empty keys default to shard 0.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % uint32(len(m.shards)))
}

// hashString provides a simple hash for shard selection.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// Package keylock provides mutual exclusion scoped to string keys. Keys hash
// onto a fixed set of shards, so memory use stays constant regardless of key
// cardinality and unrelated keys rarely contend.
package keylock

import (
	"hash/fnv"
	"io"
	"sync"
)

const defaultShards = 64

// KeyLock serializes operations that share a key. Two keys that hash to the
// same shard also serialize, which is safe but slightly pessimistic.
type KeyLock struct {
	shards []sync.Mutex
}

// New returns a KeyLock with the default shard count.
func New() *KeyLock {
	return NewWithShards(defaultShards)
}

// NewWithShards returns a KeyLock with n shards. Non-positive n falls back to
// the default.
func NewWithShards(n int) *KeyLock {
	if n <= 0 {
		n = defaultShards
	}
	return &KeyLock{shards: make([]sync.Mutex, n)}
}

// Lock acquires the shard owning key, blocking until it is available.
func (l *KeyLock) Lock(key string) {
	l.shard(key).Lock()
}

// Unlock releases the shard owning key. It must pair with a prior Lock of the
// same key.
func (l *KeyLock) Unlock(key string) {
	l.shard(key).Unlock()
}

func (l *KeyLock) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = io.WriteString(h, key)
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}

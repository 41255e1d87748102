package ingest

import (
	"hash/fnv"
	"sync"
)

// keyLocks is a striped mutex set keyed by string. It serializes the
// get-or-create of the active incident per (owner, service) pair without one
// global lock across unrelated services.
type keyLocks struct {
	shards []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = 64
	}
	return &keyLocks{shards: make([]sync.Mutex, n)}
}

func (k *keyLocks) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%uint32(len(k.shards))]
}

func (k *keyLocks) Lock(key string)   { k.shard(key).Lock() }
func (k *keyLocks) Unlock(key string) { k.shard(key).Unlock() }

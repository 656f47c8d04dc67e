package memstore

import (
	"hash/fnv"
	"sync"
)

// keyLockStripes bounds lock memory regardless of how many distinct keys a
// process touches. Two keys may share a stripe; that only costs spurious
// serialization, never a correctness issue.
const keyLockStripes = 256

// KeyLock serializes writes per (owner, agent, key) while letting distinct
// keys proceed in parallel.
type KeyLock struct {
	stripes [keyLockStripes]sync.Mutex
}

func NewKeyLock() *KeyLock {
	return &KeyLock{}
}

// Lock acquires the stripe for the composite key and returns its unlock.
func (l *KeyLock) Lock(owner, agent, key string) func() {
	h := fnv.New32a()
	h.Write([]byte(owner))
	h.Write([]byte{0})
	h.Write([]byte(agent))
	h.Write([]byte{0})
	h.Write([]byte(key))
	stripe := &l.stripes[h.Sum32()%keyLockStripes]
	stripe.Lock()
	return stripe.Unlock
}

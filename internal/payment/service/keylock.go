package service

import (
	"hash/fnv"
	"sync"
)

// keyLocker serializes write paths per external payment id so a webhook
// delivery, a status poll and a history sync racing over the same payment
// apply one at a time. Keys hash onto a fixed set of stripes.
type keyLocker struct {
	stripes [64]sync.Mutex
}

func (l *keyLocker) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}

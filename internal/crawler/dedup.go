package crawler

import (
	"sync"
	"sync/atomic"
)

// DuplicateIndex remembers composite target keys for one seed. A fresh index is
// created per keyword, so the same article found under two keywords is
// resolved twice.
type DuplicateIndex struct {
	seen sync.Map
	size atomic.Int64
}

// NewDuplicateIndex returns an empty index.
func NewDuplicateIndex() *DuplicateIndex {
	return &DuplicateIndex{}
}

// MarkIfNew stores key if it has not been seen before and returns true.
func (d *DuplicateIndex) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	if _, loaded := d.seen.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	d.size.Add(1)
	return true
}

// Len returns the number of distinct keys recorded.
func (d *DuplicateIndex) Len() int {
	return int(d.size.Load())
}

type localSeen map[string]struct{}

func (s localSeen) MarkIfNew(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

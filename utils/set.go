package utils

import (
	"cmp"
	"slices"
	"sync"
)

// Set is a thread-safe set. The crawl uses it for visited sitemaps,
// page-content digests and index URLs.
type Set[K comparable] struct {
	mu   sync.RWMutex
	seen map[K]struct{}
}

// NewSet creates an empty Set.
func NewSet[K comparable]() *Set[K] {
	return &Set[K]{seen: make(map[K]struct{})}
}

// Add returns true if k was newly added, false if already present.
func (s *Set[K]) Add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[k]; exists {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

func (s *Set[K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Sorted returns the members of an ordered set in ascending order.
func Sorted[K cmp.Ordered](s *Set[K]) []K {
	s.mu.RLock()
	out := make([]K, 0, len(s.seen))
	for k := range s.seen {
		out = append(out, k)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

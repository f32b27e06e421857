// Bounded set of recently seen keys, with first-in-first-out eviction.
package recent

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Fixed capacity set. Adding a key already present is a no-op and does not refresh it; once full, adding a new key evicts the oldest one.
//
// Backed by an LRU cache which is never read with Get, so recency order is insertion order.
type Set[K comparable] struct {
	cache *lru.Cache[K, struct{}]
}

func NewSet[K comparable](capacity int) (*Set[K], error) {
	c, err := lru.New[K, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Set[K]{cache: c}, nil
}

// Returns false if the key was already present
func (s *Set[K]) Put(key K) bool {
	found, _ := s.cache.ContainsOrAdd(key, struct{}{})
	return !found
}

func (s *Set[K]) Contains(key K) bool {
	return s.cache.Contains(key)
}

func (s *Set[K]) Len() int {
	return s.cache.Len()
}

// Oldest first
func (s *Set[K]) Keys() []K {
	return s.cache.Keys()
}

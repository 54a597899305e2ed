package cache

import (
	"container/list"
	"fmt"
	"sync"
)

// SeenSet remembers the most recent maxSize keys, evicting the least recently
// seen one when full. The feed session uses it to recognise broker redeliveries
// by message-id.
type SeenSet[K comparable] struct {
	maxSize int

	mu    sync.Mutex
	ll    *list.List
	items map[K]*list.Element
}

// NewSeenSet creates a SeenSet. maxSize must be > 0.
func NewSeenSet[K comparable](maxSize int) (*SeenSet[K], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &SeenSet[K]{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[K]*list.Element),
	}, nil
}

// Seen records key and reports whether it was already present. A repeat
// sighting refreshes the key's recency.
func (s *SeenSet[K]) Seen(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.ll.MoveToFront(elem)
		return true
	}
	s.items[key] = s.ll.PushFront(key)
	if s.ll.Len() > s.maxSize {
		oldest := s.ll.Back()
		s.ll.Remove(oldest)
		delete(s.items, oldest.Value.(K))
	}
	return false
}

// Forget removes key so a later sighting is treated as new.
func (s *SeenSet[K]) Forget(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.ll.Remove(elem)
		delete(s.items, key)
	}
}

// Len returns the number of remembered keys.
func (s *SeenSet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

package report

import (
	"container/list"
	"context"
	"sync"

	"github.com/deixis/runbox/internal/pipeline"
)

// LRUStore keeps the most recently used results in memory and delegates
// to a backing Store on miss. Results are shared, not copied; callers must
// not modify a loaded result.
type LRUStore struct {
	mu    sync.Mutex
	cap   int
	back  Store
	order *list.List // front is most recent; values are *pipeline.Result
	items map[string]*list.Element
}

// NewLRUStore creates an LRU cache of the given capacity in front of back.
// Capacity is at least 1.
func NewLRUStore(capacity int, back Store) *LRUStore {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUStore{
		cap:   capacity,
		back:  back,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Save caches result and writes it through to the backing store.
func (s *LRUStore) Save(ctx context.Context, result *pipeline.Result) error {
	if err := checkID(result.RunID); err != nil {
		return err
	}
	s.put(result)
	return s.back.Save(ctx, result)
}

// Load serves from the cache, falling back to the backing store and
// caching what it returns.
func (s *LRUStore) Load(ctx context.Context, runID string) (*pipeline.Result, error) {
	s.mu.Lock()
	if el, ok := s.items[runID]; ok {
		s.order.MoveToFront(el)
		r := el.Value.(*pipeline.Result)
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	result, err := s.back.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.put(result)
	return result, nil
}

// Len returns the number of cached results.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *LRUStore) put(result *pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[result.RunID]; ok {
		el.Value = result
		s.order.MoveToFront(el)
		return
	}
	s.items[result.RunID] = s.order.PushFront(result)
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*pipeline.Result).RunID)
	}
}

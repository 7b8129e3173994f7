package cache

import (
	"context"
	"sync"
	"time"

	app "github.com/erp/shipmerge/internal/application/consolidation"
)

type claim struct {
	owner     string
	expiresAt time.Time
}

// InMemoryMergeClaimStore implements MergeClaimStore using an in-memory map.
// Claims are only arbitrated within one process.
type InMemoryMergeClaimStore struct {
	mu        sync.Mutex
	claims    map[string]claim
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryMergeClaimStore creates a store and starts its cleanup goroutine
func NewInMemoryMergeClaimStore() *InMemoryMergeClaimStore {
	s := newInMemoryMergeClaimStore(time.Now)
	s.wg.Add(1)
	go s.cleanupLoop(5 * time.Minute)
	return s
}

func newInMemoryMergeClaimStore(now func() time.Time) *InMemoryMergeClaimStore {
	return &InMemoryMergeClaimStore{
		claims:   make(map[string]claim),
		now:      now,
		stopChan: make(chan struct{}),
	}
}

// Claim records triggerOrderID as owner unless a live claim exists
func (s *InMemoryMergeClaimStore) Claim(_ context.Context, heldOrderID, triggerOrderID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.claims[heldOrderID]; ok && now.Before(c.expiresAt) {
		return c.owner, nil
	}
	s.claims[heldOrderID] = claim{owner: triggerOrderID, expiresAt: now.Add(ttl)}
	return triggerOrderID, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryMergeClaimStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryMergeClaimStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryMergeClaimStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, c := range s.claims {
		if !now.Before(c.expiresAt) {
			delete(s.claims, id)
		}
	}
}

func (s *InMemoryMergeClaimStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

var _ app.MergeClaimStore = (*InMemoryMergeClaimStore)(nil)

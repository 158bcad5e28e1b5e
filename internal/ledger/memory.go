package ledger

import (
	"context"
	"sync"

	"github.com/digkill/medpost/internal/models"
)

// MemoryStore keeps balances in process. It backs tests and database-less
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]models.Credits
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]models.Credits)}
}

func (s *MemoryStore) Set(userID string, credits models.Credits) {
	s.mu.Lock()
	s.balances[userID] = credits
	s.mu.Unlock()
}

func (s *MemoryStore) Credits(userID string) models.Credits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *MemoryStore) Balance(_ context.Context, userID string, capability models.Capability) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID].Of(capability), nil
}

func (s *MemoryStore) Decrement(_ context.Context, userID string, capability models.Capability, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.balances[userID]
	if current.Of(capability) < amount {
		return false, nil
	}
	s.balances[userID] = current.With(capability, current.Of(capability)-amount)
	return true, nil
}

// KeyedMutex is an in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

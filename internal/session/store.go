// Package session persists generation sessions between requests and guards
// against two paid actions running for the same user at once.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/digkill/medpost/internal/pipeline"
)

// ErrBusy means another paid action holds the user's session.
var ErrBusy = errors.New("session busy")

type Store interface {
	// Load returns the stored session and whether one existed.
	Load(ctx context.Context, userID string) (pipeline.Session, bool, error)
	Save(ctx context.Context, userID string, s pipeline.Session) error
	// Delete removes the session and bumps the user's epoch, so saves
	// prepared against the old session are dropped.
	Delete(ctx context.Context, userID string) error
	// Epoch returns the user's reset counter.
	Epoch(ctx context.Context, userID string) (int64, error)
	// SaveAt saves only while the epoch still equals epoch. It reports
	// whether the session was written.
	SaveAt(ctx context.Context, userID string, epoch int64, s pipeline.Session) (bool, error)
	// Acquire marks the session busy or fails with ErrBusy.
	Acquire(ctx context.Context, userID string) (release func(), err error)
	// Busy reports whether a busy marker is currently held.
	Busy(ctx context.Context, userID string) (bool, error)
}

// MemoryStore keeps sessions in process. Suitable for a single instance.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]pipeline.Session
	busy     map[string]bool
	epochs   map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]pipeline.Session),
		busy:     make(map[string]bool),
		epochs:   make(map[string]int64),
	}
}

func (m *MemoryStore) Load(_ context.Context, userID string) (pipeline.Session, bool, error) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return pipeline.Session{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, userID string, s pipeline.Session) error {
	m.mu.Lock()
	m.sessions[userID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.epochs[userID]++
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Epoch(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epochs[userID], nil
}

func (m *MemoryStore) SaveAt(_ context.Context, userID string, epoch int64, s pipeline.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epochs[userID] != epoch {
		return false, nil
	}
	m.sessions[userID] = s.Clone()
	return true, nil
}

func (m *MemoryStore) Busy(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.busy[userID], nil
}

func (m *MemoryStore) Acquire(_ context.Context, userID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[userID] {
		return nil, ErrBusy
	}
	m.busy[userID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.busy, userID)
			m.mu.Unlock()
		})
	}, nil
}

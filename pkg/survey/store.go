package survey

import (
	"sort"
	"sync"
)

// Store holds the active surveys, at most one per user id.
type Store interface {
	// Get returns the active survey for a normalized user id.
	Get(userID string) (*Survey, bool)
	// Add registers a survey. It fails with ErrSurveyActive if the user already has one.
	Add(s *Survey) error
	// Remove drops the survey with the given id. Removing an unknown id is a no-op.
	Remove(surveyID string) bool
	// List returns the active surveys ordered by start time.
	List() []*Survey
}

// MemoryStore keeps surveys in process memory.
type MemoryStore struct {
	byUser map[string]*Survey
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string]*Survey),
	}
}

func (m *MemoryStore) Get(userID string) (*Survey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byUser[userID]
	return s, ok
}

func (m *MemoryStore) Add(s *Survey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUser[s.UserID()]; ok {
		return ErrSurveyActive
	}
	m.byUser[s.UserID()] = s
	return nil
}

func (m *MemoryStore) Remove(surveyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for user, s := range m.byUser {
		if s.ID() == surveyID {
			delete(m.byUser, user)
			return true
		}
	}
	return false
}

func (m *MemoryStore) List() []*Survey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Survey, 0, len(m.byUser))
	for _, s := range m.byUser {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime().Equal(out[j].StartTime()) {
			return out[i].UserID() < out[j].UserID()
		}
		return out[i].StartTime().Before(out[j].StartTime())
	})
	return out
}

package session

import (
	"errors"
	"sync"
	"time"
)

// Repository defines the concurrency-safe contract for the session registry.
type Repository interface {
	// Create stores a new session. It fails if the id is already taken.
	Create(s *Session) error

	// Get returns the session with the given id, ended or not.
	Get(id SessionID) (*Session, error)

	// End marks a session as ended. Ending an ended session is a no-op.
	End(id SessionID) error

	// ActiveSessionCount returns the number of sessions that are not ended.
	// Used for metrics.
	ActiveSessionCount() int

	// PruneEnded removes sessions that ended before cutoff and returns how
	// many were removed.
	PruneEnded(cutoff time.Time) int
}

var (
	// ErrSessionNotFound is returned for an id the repository does not hold.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned when feeding a session that has ended.
	ErrSessionEnded = errors.New("session has ended")

	// ErrSessionExists is returned by Create for a duplicate id.
	ErrSessionExists = errors.New("session already exists")
)

// InMemoryRepository is a concurrency-safe implementation of Repository
// backed by a Store; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	ended map[SessionID]time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, ended: make(map[SessionID]time.Time)}
}

// Create implements Repository.Create.
func (r *InMemoryRepository) Create(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(s.ID); exists {
		return ErrSessionExists
	}
	r.store.SetSession(s)
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id SessionID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End implements Repository.End.
func (r *InMemoryRepository) End(id SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.GetSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.Ended {
		s.Ended = true
		r.ended[id] = time.Now().UTC()
	}
	return nil
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && !s.Ended {
			n++
		}
	}
	return n
}

// PruneEnded implements Repository.PruneEnded.
func (r *InMemoryRepository) PruneEnded(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, at := range r.ended {
		if at.Before(cutoff) {
			r.store.DeleteSession(id)
			delete(r.ended, id)
			n++
		}
	}
	return n
}

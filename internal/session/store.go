package session

// Store holds live sessions by id. Each Session carries its own Processor,
// so a Store keeps pointers and never copies. InMemoryRepository guards
// every call with its lock; implementations need no locking of their own.
type Store interface {
	GetSession(id SessionID) (*Session, bool)
	SetSession(s *Session)
	DeleteSession(id SessionID)
	ListSessionIDs() []SessionID
}

// InMemoryStore keeps sessions in a map. Processor state cannot be
// serialized, so this is the only Store the service ships with.
type InMemoryStore struct {
	sessions map[SessionID]*Session
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[SessionID]*Session)}
}

// GetSession returns the session registered under id.
func (s *InMemoryStore) GetSession(id SessionID) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// SetSession registers sess under its ID, replacing any earlier entry.
func (s *InMemoryStore) SetSession(sess *Session) {
	s.sessions[sess.ID] = sess
}

// DeleteSession forgets id. Pruning of ended sessions goes through here.
func (s *InMemoryStore) DeleteSession(id SessionID) {
	delete(s.sessions, id)
}

// ListSessionIDs returns the registered ids in no particular order.
func (s *InMemoryStore) ListSessionIDs() []SessionID {
	ids := make([]SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

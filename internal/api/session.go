package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wablast/wablast/internal/contacts"
)

// session holds one operator's uploaded contacts and current
// selection. Nothing survives a restart.
type session struct {
	ID        string
	Contacts  []contacts.Recipient
	Selection []contacts.Recipient
	CreatedAt time.Time
	UsedAt    time.Time
}

// sessionStore is an in-memory, TTL-swept session registry.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	stopCh   chan struct{}
}

func newSessionStore(ttl time.Duration) *sessionStore {
	s := &sessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *sessionStore) create(list []contacts.Recipient) *session {
	now := time.Now()
	sess := &session{
		ID:        uuid.New().String(),
		Contacts:  list,
		Selection: list,
		CreatedAt: now,
		UsedAt:    now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	snap := *sess
	s.mu.Unlock()
	return &snap
}

// get returns a point-in-time copy of the session. Handlers read the
// copy without holding the store lock, so a concurrent setSelection
// never races with an in-flight list, export or dispatch.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.UsedAt = time.Now()
	snap := *sess
	return &snap, true
}

func (s *sessionStore) setSelection(id string, selection []contacts.Recipient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Selection = selection
	sess.UsedAt = time.Now()
	return true
}

func (s *sessionStore) stop() {
	close(s.stopCh)
}

func (s *sessionStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *sessionStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if now.Sub(sess.UsedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

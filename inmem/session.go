package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/buzkaaclicker/chatgate"
)

// SessionStore keeps sessions in a map keyed by token. Expired records are
// kept until deleted.
type SessionStore struct {
	sessions map[string]chatgate.Session
	mutex    sync.RWMutex
}

var _ chatgate.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]chatgate.Session)}
}

func (s *SessionStore) Get(ctx context.Context, token string) (chatgate.Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return chatgate.Session{}, chatgate.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Set(ctx context.Context, session chatgate.Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[session.Token] = session
	return nil
}

func (s *SessionStore) Update(ctx context.Context, session chatgate.Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.sessions[session.Token]; !ok {
		return chatgate.ErrSessionNotFound
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) ScanTokens(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tokens := make([]string, 0, len(s.sessions))
	for token := range s.sessions {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens, nil
}

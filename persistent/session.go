package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/tidwall/buntdb"
)

const sessionKeyPrefix = "session:"

const sessionsIndex = "sessions"

// SessionStore keeps sessions in an embedded buntdb database.
type SessionStore struct {
	Buntdb *buntdb.DB
}

var _ chatgate.SessionStore = (*SessionStore)(nil)

func NewSessionStore(bdb *buntdb.DB) (*SessionStore, error) {
	err := bdb.CreateIndex(sessionsIndex, sessionKeyPrefix+"*", buntdb.IndexString)
	if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		return nil, fmt.Errorf("create sessions index: %w", err)
	}
	return &SessionStore{Buntdb: bdb}, nil
}

func (s *SessionStore) Get(ctx context.Context, token string) (chatgate.Session, error) {
	var session chatgate.Session
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		serializedSession, err := tx.Get(sessionKeyPrefix + token)
		if err != nil {
			return fmt.Errorf("get serialized session: %w", err)
		}
		if err := json.Unmarshal([]byte(serializedSession), &session); err != nil {
			return fmt.Errorf("deserialize session: %s", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return chatgate.Session{}, chatgate.ErrSessionNotFound
		} else {
			return chatgate.Session{}, fmt.Errorf("buntdb view: %w", err)
		}
	}
	return session, nil
}

func (s *SessionStore) Set(ctx context.Context, session chatgate.Session) error {
	return s.write(session, false)
}

func (s *SessionStore) Update(ctx context.Context, session chatgate.Session) error {
	return s.write(session, true)
}

func (s *SessionStore) write(session chatgate.Session, mustExist bool) error {
	serializedSession, err := json.Marshal(&session)
	if err != nil {
		return fmt.Errorf("session serialize: %w", err)
	}
	key := sessionKeyPrefix + session.Token
	err = s.Buntdb.Update(func(tx *buntdb.Tx) error {
		if mustExist {
			if _, err := tx.Get(key); err != nil {
				return err
			}
		}
		expireOptions := &buntdb.SetOptions{
			Expires: true,
			TTL:     chatgate.StoreTTL(session, time.Now()),
		}
		_, _, err := tx.Set(key, string(serializedSession), expireOptions)
		return err
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return chatgate.ErrSessionNotFound
		}
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(sessionKeyPrefix + token)
		return err
	})
	if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *SessionStore) ScanTokens(ctx context.Context) ([]string, error) {
	tokens := make([]string, 0, 10)
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(sessionsIndex, func(key, value string) bool {
			tokens = append(tokens, strings.TrimPrefix(key, sessionKeyPrefix))
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ascend sessions: %w", err)
	}
	return tokens, nil
}

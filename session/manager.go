package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/buzkaaclicker/chatgate"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL         = 30 * 24 * time.Hour
	DefaultMaxSessions = 5

	enforceTimeout = time.Minute
)

// Manager verifies sessions and keeps the number of sessions per user bounded.
// The underlying store is shared with other processes, so nothing here assumes
// the set of sessions stays the same between two store calls.
type Manager struct {
	Store         chatgate.SessionStore
	ActivityStore chatgate.ActivityStore

	TTL         time.Duration
	MaxSessions int

	// OnEvicted is called with public ids of sessions removed by Delete,
	// Enforce, RevokeById or RevokeAllExcept.
	OnEvicted func(sessionIds []string)

	Now func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Manager) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return DefaultTTL
}

func (m *Manager) maxSessions() int {
	if m.MaxSessions > 0 {
		return m.MaxSessions
	}
	return DefaultMaxSessions
}

// Verify returns the live session with given token. Invalid sessions are
// reported with chatgate.ErrSessionMalformed, chatgate.ErrSessionNotFound or
// chatgate.ErrSessionExpired, store failures with chatgate.ErrStoreUnavailable.
// An expired session is deleted.
func (m *Manager) Verify(ctx context.Context, token string) (chatgate.Session, error) {
	if token == "" || utf8.RuneCountInString(token) > chatgate.MaxSessionTokenLength {
		return chatgate.Session{}, chatgate.ErrSessionMalformed
	}

	session, err := m.Store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, chatgate.ErrSessionNotFound) {
			return chatgate.Session{}, chatgate.ErrSessionNotFound
		}
		return chatgate.Session{}, fmt.Errorf("%w: %v", chatgate.ErrStoreUnavailable, err)
	}

	if session.Expired(m.now()) {
		if err := m.Store.Delete(ctx, token); err != nil {
			return chatgate.Session{}, fmt.Errorf("%w: delete expired: %v", chatgate.ErrStoreUnavailable, err)
		}
		return chatgate.Session{}, chatgate.ErrSessionExpired
	}
	return session, nil
}

// Refresh extends the session expiry and records the client it was last used
// from. A session deleted since it was verified is not restored and
// chatgate.ErrSessionNotFound is returned.
func (m *Manager) Refresh(ctx context.Context, session chatgate.Session,
	ip string, userAgent string) (chatgate.Session, error) {
	now := m.now()
	session.LastAccessedAt = now
	session.ExpiresAt = now.Add(m.ttl())
	if ip != "" {
		session.Ip = ip
	}
	if userAgent != "" {
		session.UserAgent = userAgent
	}
	if err := m.Store.Update(ctx, session); err != nil {
		if errors.Is(err, chatgate.ErrSessionNotFound) {
			return chatgate.Session{}, chatgate.ErrSessionNotFound
		}
		return chatgate.Session{}, fmt.Errorf("%w: %v", chatgate.ErrStoreUnavailable, err)
	}
	return session, nil
}

// Create registers a new session for the user. Enforcement of the session limit
// is started in background and never evicts the created session.
func (m *Manager) Create(ctx context.Context, userId chatgate.UserId,
	ip string, userAgent string) (chatgate.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return chatgate.Session{}, fmt.Errorf("generate token: %w", err)
	}
	now := m.now()
	session := chatgate.Session{
		Id:             uuid.NewString(),
		Token:          token,
		UserId:         userId,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(m.ttl()),
		Ip:             ip,
		UserAgent:      userAgent,
	}
	if err := m.Store.Set(ctx, session); err != nil {
		return chatgate.Session{}, fmt.Errorf("%w: %v", chatgate.ErrStoreUnavailable, err)
	}

	m.addLog(ctx, userId, chatgate.Activity{Name: chatgate.ActivitySessionCreated, Data: map[string]interface{}{
		"ip":         ip,
		"userAgent":  userAgent,
		"session_id": session.Id,
	}})
	m.EnforceAsync(userId, session.Token)
	return session, nil
}

// Delete removes a single session. Deleting a missing session is not an error.
func (m *Manager) Delete(ctx context.Context, session chatgate.Session) error {
	if err := m.Store.Delete(ctx, session.Token); err != nil {
		return fmt.Errorf("%w: %v", chatgate.ErrStoreUnavailable, err)
	}
	m.evicted([]string{session.Id})
	return nil
}

// ListByUser returns live sessions of the user ordered from the oldest.
func (m *Manager) ListByUser(ctx context.Context, userId chatgate.UserId) ([]chatgate.Session, error) {
	sessions, err := m.userSessions(ctx, userId)
	if err != nil {
		return nil, err
	}
	now := m.now()
	live := make([]chatgate.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.Expired(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

// Enforce evicts the oldest sessions of the user until at most MaxSessions
// live ones remain. The session with currentToken is never evicted. Expired
// sessions found on the way are deleted and not counted. Returns public ids of
// evicted sessions.
func (m *Manager) Enforce(ctx context.Context, userId chatgate.UserId, currentToken string) ([]string, error) {
	sessions, err := m.userSessions(ctx, userId)
	if err != nil {
		return nil, err
	}

	now := m.now()
	live := make([]chatgate.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.Expired(now) {
			live = append(live, s)
			continue
		}
		if err := m.Store.Delete(ctx, s.Token); err != nil {
			return nil, fmt.Errorf("%w: delete expired: %v", chatgate.ErrStoreUnavailable, err)
		}
	}

	excess := len(live) - m.maxSessions()
	evicted := make([]string, 0)
	kept := ""
	for _, s := range live {
		if s.Token == currentToken {
			kept = s.Id
		}
	}
	for _, s := range live {
		if excess <= 0 {
			break
		}
		if s.Token == currentToken {
			continue
		}
		if err := m.Store.Delete(ctx, s.Token); err != nil {
			m.evicted(evicted)
			return evicted, fmt.Errorf("%w: evict: %v", chatgate.ErrStoreUnavailable, err)
		}
		evicted = append(evicted, s.Id)
		excess--
	}

	if len(evicted) > 0 {
		logrus.WithField("user_id", userId).
			WithField("evicted", len(evicted)).
			Infoln("Session limit exceeded, evicted oldest sessions.")
		m.addLog(ctx, userId, chatgate.Activity{Name: chatgate.ActivitySessionEvicted, Data: map[string]interface{}{
			"session_ids": evicted,
			"kept":        kept,
		}})
		m.evicted(evicted)
	}
	return evicted, nil
}

// EnforceAsync runs Enforce in background with its own deadline.
func (m *Manager) EnforceAsync(userId chatgate.UserId, currentToken string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enforceTimeout)
		defer cancel()
		if _, err := m.Enforce(ctx, userId, currentToken); err != nil {
			logrus.WithError(err).
				WithField("user_id", userId).
				Errorln("Could not enforce session limit.")
		}
	}()
}

// RevokeById deletes the session of the user with given public id. Sessions of
// other users are reported as chatgate.ErrSessionNotFound.
func (m *Manager) RevokeById(ctx context.Context, userId chatgate.UserId, sessionId string) error {
	sessions, err := m.userSessions(ctx, userId)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Id != sessionId {
			continue
		}
		if err := m.Store.Delete(ctx, s.Token); err != nil {
			return fmt.Errorf("%w: revoke: %v", chatgate.ErrStoreUnavailable, err)
		}
		m.addLog(ctx, userId, chatgate.Activity{Name: chatgate.ActivitySessionsRevoked, Data: map[string]interface{}{
			"session_ids": []string{s.Id},
		}})
		m.evicted([]string{s.Id})
		return nil
	}
	return chatgate.ErrSessionNotFound
}

// RevokeAllExcept deletes every session of the user except the one with
// keepToken. Empty keepToken revokes all of them. Returns public ids of
// revoked sessions.
func (m *Manager) RevokeAllExcept(ctx context.Context, userId chatgate.UserId, keepToken string) ([]string, error) {
	sessions, err := m.userSessions(ctx, userId)
	if err != nil {
		return nil, err
	}
	revoked := make([]string, 0, len(sessions))
	kept := ""
	for _, s := range sessions {
		if keepToken != "" && s.Token == keepToken {
			kept = s.Id
			continue
		}
		if err := m.Store.Delete(ctx, s.Token); err != nil {
			m.evicted(revoked)
			return revoked, fmt.Errorf("%w: revoke: %v", chatgate.ErrStoreUnavailable, err)
		}
		revoked = append(revoked, s.Id)
	}

	m.addLog(ctx, userId, chatgate.Activity{Name: chatgate.ActivitySessionsRevoked, Data: map[string]interface{}{
		"session_ids": revoked,
		"kept":        kept,
	}})
	m.evicted(revoked)
	return revoked, nil
}

// userSessions scans the whole store and returns sessions owned by the user,
// oldest first. Sessions removed concurrently with the scan are skipped.
func (m *Manager) userSessions(ctx context.Context, userId chatgate.UserId) ([]chatgate.Session, error) {
	tokens, err := m.Store.ScanTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", chatgate.ErrStoreUnavailable, err)
	}

	sessions := make([]chatgate.Session, 0, 10)
	for _, token := range tokens {
		s, err := m.Store.Get(ctx, token)
		if err != nil {
			if errors.Is(err, chatgate.ErrSessionNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: get: %v", chatgate.ErrStoreUnavailable, err)
		}
		if s.UserId == userId {
			sessions = append(sessions, s)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Id < sessions[j].Id
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m *Manager) evicted(ids []string) {
	if m.OnEvicted != nil && len(ids) > 0 {
		m.OnEvicted(ids)
	}
}

// addLog failure does not fail the session operation.
func (m *Manager) addLog(ctx context.Context, userId chatgate.UserId, activity chatgate.Activity) {
	if m.ActivityStore == nil {
		return
	}
	if err := m.ActivityStore.AddLog(ctx, userId, activity); err != nil {
		logrus.WithError(err).
			WithField("user_id", userId).
			WithField("activity", activity.Name).
			Warningln("Could not add activity log.")
	}
}

func generateSessionToken() (string, error) {
	const idBytes = 48
	raw := make([]byte, idBytes)
	// crypto/rand - getentropy(2)
	bytesRead, err := rand.Read(raw)
	if err != nil {
		return "", fmt.Errorf("rand read: %w", err)
	}
	if bytesRead != idBytes {
		return "", fmt.Errorf("bytes read %d / required %d", bytesRead, idBytes)
	}
	// url safe, tokens travel in websocket handshake query strings
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Package session provides redis-backed cookie sessions: an opaque
// session ID travels in an HttpOnly cookie, all state stays server-side
// under a TTL.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const CookieName = "userhub_session"

var ErrNoSession = errors.New("no active session")

// Manager tracks the authenticated user across requests. Session state
// is scoped to the caller's cookie; nothing is shared between callers.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
	secure bool
}

func NewManager(client *redis.Client, ttl time.Duration, secure bool) *Manager {
	return &Manager{client: client, ttl: ttl, secure: secure}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func flashKey(id string) string {
	return fmt.Sprintf("session:%s:flash", id)
}

func userSessionsKey(userID int64) string {
	return fmt.Sprintf("user_sessions:%d", userID)
}

// Start opens an authenticated session for the user. Any session named
// by the request's cookie is discarded first, so login always rotates
// the session ID.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, userID int64) error {
	if old, err := r.Cookie(CookieName); err == nil {
		m.discard(ctx, old.Value)
	}

	id := uuid.NewString()
	key := sessionKey(id)

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":    userID,
		"created_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, m.ttl)
	pipe.SAdd(ctx, userSessionsKey(userID), id)
	pipe.Expire(ctx, userSessionsKey(userID), m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	m.setCookie(w, id)
	return nil
}

// End terminates the caller's session and expires the cookie.
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ErrNoSession
	}

	m.discard(ctx, cookie.Value)
	m.clearCookie(w)
	return nil
}

// CurrentUserID resolves the caller's session to a user ID. The second
// return is false for anonymous callers, including callers whose
// session exists only to carry flash messages.
func (m *Manager) CurrentUserID(ctx context.Context, r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return 0, false
	}

	raw, err := m.client.HGet(ctx, sessionKey(cookie.Value), "user_id").Result()
	if err != nil {
		return 0, false
	}

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return userID, true
}

// DestroyAllForUser ends every session belonging to the user. Called
// after a password reset so stolen sessions die with the old password.
func (m *Manager) DestroyAllForUser(ctx context.Context, userID int64) error {
	setKey := userSessionsKey(userID)

	ids, err := m.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
		pipe.Del(ctx, flashKey(id))
	}
	pipe.Del(ctx, setKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to destroy user sessions: %w", err)
	}

	return nil
}

// AddFlash queues a message for the caller's next page view. Anonymous
// callers get a session created on the spot so the message survives the
// redirect.
func (m *Manager) AddFlash(ctx context.Context, w http.ResponseWriter, r *http.Request, message string) error {
	id, err := m.ensureSession(ctx, w, r)
	if err != nil {
		return err
	}

	key := flashKey(id)
	pipe := m.client.Pipeline()
	pipe.RPush(ctx, key, message)
	pipe.Expire(ctx, key, m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add flash: %w", err)
	}

	return nil
}

// PopFlashes returns and clears the caller's queued messages.
func (m *Manager) PopFlashes(ctx context.Context, r *http.Request) []string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}

	key := flashKey(cookie.Value)
	pipe := m.client.Pipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil
	}

	return rangeCmd.Val()
}

// ensureSession returns the ID of the caller's live session, creating
// an anonymous one when the cookie is missing or stale.
func (m *Manager) ensureSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		exists, err := m.client.Exists(ctx, sessionKey(cookie.Value)).Result()
		if err == nil && exists > 0 {
			return cookie.Value, nil
		}
	}

	id := uuid.NewString()
	key := sessionKey(id)

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, "created_at", time.Now().Unix())
	pipe.Expire(ctx, key, m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	m.setCookie(w, id)

	// make the fresh session visible to later calls in this request
	r.AddCookie(&http.Cookie{Name: CookieName, Value: id})

	return id, nil
}

func (m *Manager) discard(ctx context.Context, id string) {
	key := sessionKey(id)

	if raw, err := m.client.HGet(ctx, key, "user_id").Result(); err == nil {
		if userID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			m.client.SRem(ctx, userSessionsKey(userID), id)
		}
	}

	m.client.Del(ctx, key, flashKey(id))
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

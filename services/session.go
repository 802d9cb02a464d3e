package services

import (
	"context"
	"slices"
	"time"

	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
)

// Default TTLs for the session area.
const (
	SessionTTL     = 24 * time.Hour
	UserProfileTTL = time.Hour
	PermissionsTTL = 30 * time.Minute
)

// Session is an authenticated session as cached for the auth layer.
type Session struct {
	ID        string         `json:"id" msgpack:"id"`
	UserID    string         `json:"userId" msgpack:"userId"`
	CreatedAt time.Time      `json:"createdAt" msgpack:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt" msgpack:"expiresAt"`
	Data      map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
}

// SessionCache caches sessions, user profiles and permissions. Every user
// has an index of session ids so all their sessions can be dropped without a
// key scan.
type SessionCache struct {
	store  *cache.Store
	logger logger.Logger
}

func NewSessionCache(store *cache.Store) *SessionCache {
	return &SessionCache{store: store, logger: logger.WithComponent(store.Logger(), "sessions")}
}

// CacheSession stores s and adds it to its user's session index. The index
// is updated read-modify-write; two concurrent logins of the same user may
// drop one id from it.
func (c *SessionCache) CacheSession(ctx context.Context, s Session, ttl time.Duration) bool {
	ttl = ttlOr(ttl, SessionTTL)
	if !c.store.Save(ctx, sessionKey(s.ID), s, ttl) {
		return false
	}
	if s.UserID == "" {
		return true
	}
	ids := c.sessionIDs(ctx, s.UserID)
	if !slices.Contains(ids, s.ID) {
		ids = append(ids, s.ID)
	}
	indexTTL := ttl
	if remaining, ok := c.store.TTL(ctx, userSessionsKey(s.UserID)); ok && remaining > indexTTL {
		indexTTL = remaining
	}
	return c.store.Save(ctx, userSessionsKey(s.UserID), ids, indexTTL)
}

func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (Session, bool) {
	var s Session
	ok := c.store.Load(ctx, sessionKey(sessionID), &s)
	return s, ok
}

func (c *SessionCache) sessionIDs(ctx context.Context, userID string) []string {
	var ids []string
	c.store.Load(ctx, userSessionsKey(userID), &ids)
	return ids
}

// UserSessions returns the ids recorded in the user's session index.
func (c *SessionCache) UserSessions(ctx context.Context, userID string) []string {
	return c.sessionIDs(ctx, userID)
}

// InvalidateSession removes one session and its entry in the user index.
func (c *SessionCache) InvalidateSession(ctx context.Context, sessionID string) bool {
	s, found := c.GetSession(ctx, sessionID)
	if !c.store.Del(ctx, sessionKey(sessionID)) {
		return false
	}
	if !found || s.UserID == "" {
		return true
	}
	ids := slices.DeleteFunc(c.sessionIDs(ctx, s.UserID), func(id string) bool { return id == sessionID })
	if len(ids) == 0 {
		return c.store.Del(ctx, userSessionsKey(s.UserID))
	}
	remaining, ok := c.store.TTL(ctx, userSessionsKey(s.UserID))
	if !ok {
		remaining = SessionTTL
	}
	return c.store.Save(ctx, userSessionsKey(s.UserID), ids, remaining)
}

// InvalidateUserSessions drops every session of userID and returns how many
// the index listed.
func (c *SessionCache) InvalidateUserSessions(ctx context.Context, userID string) int {
	ids := c.sessionIDs(ctx, userID)
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(userID))
	c.store.Del(ctx, keys...)
	c.logger.Debug("invalidated %d sessions for user %s", len(ids), userID)
	return len(ids)
}

func (c *SessionCache) CacheUserProfile(ctx context.Context, userID string, profile any, ttl time.Duration) bool {
	return c.store.Save(ctx, userProfileKey(userID), profile, ttlOr(ttl, UserProfileTTL))
}

// GetUserProfile decodes the cached profile into out.
func (c *SessionCache) GetUserProfile(ctx context.Context, userID string, out any) bool {
	return c.store.Load(ctx, userProfileKey(userID), out)
}

func (c *SessionCache) CacheUserPermissions(ctx context.Context, userID string, permissions []string, ttl time.Duration) bool {
	return c.store.Save(ctx, permissionsKey(userID), permissions, ttlOr(ttl, PermissionsTTL))
}

func (c *SessionCache) GetUserPermissions(ctx context.Context, userID string) ([]string, bool) {
	var perms []string
	ok := c.store.Load(ctx, permissionsKey(userID), &perms)
	return perms, ok
}

// InvalidateUser drops the profile, permissions, sessions and every
// user:<id>:* entry of userID.
func (c *SessionCache) InvalidateUser(ctx context.Context, userID string) int {
	n := c.InvalidateUserSessions(ctx, userID)
	for _, key := range []string{userProfileKey(userID), permissionsKey(userID)} {
		if c.store.Exists(ctx, key) {
			n++
		}
	}
	c.store.Del(ctx, userProfileKey(userID), permissionsKey(userID))
	n += c.store.InvalidatePattern(ctx, userPattern(userID))
	c.logger.Info("invalidated user %s (%d entries)", userID, n)
	return n
}

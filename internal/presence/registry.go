// Package presence tracks which users are online, the connection each one is
// reachable on, and what they are currently doing.
package presence

import (
	"sync"

	"github.com/samber/lo"
)

// IdleActivity is the activity every freshly registered user starts with
const IdleActivity = "Idle"

// Session is the presence record for one online user
type Session struct {
	UserID       string
	ConnectionID string
	Activity     string
}

// Registry maps online users to their connection and activity. A user has at
// most one connection and a connection belongs to at most one user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byConn   map[string]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
	}
}

// Register binds userID to connectionID and resets the activity to Idle.
// It returns the connection the user was previously bound to, if any.
func (r *Registry) Register(userID, connectionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous string
	if s, ok := r.sessions[userID]; ok {
		previous = s.ConnectionID
		if previous != connectionID {
			delete(r.byConn, previous)
		}
	}

	// the connection was announced under another user before
	if other, ok := r.byConn[connectionID]; ok && other != userID {
		delete(r.sessions, other)
	}

	r.sessions[userID] = &Session{
		UserID:       userID,
		ConnectionID: connectionID,
		Activity:     IdleActivity,
	}
	r.byConn[connectionID] = userID

	return previous
}

// SetActivity updates the activity of an online user. Unknown users are
// ignored and false is returned.
func (r *Registry) SetActivity(userID, activity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	s.Activity = activity
	return true
}

// Unregister removes the user bound to connectionID
func (r *Registry) Unregister(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connectionID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connectionID)
	delete(r.sessions, userID)
	return userID, true
}

// ConnectionFor returns the connection a user is reachable on
func (r *Registry) ConnectionFor(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return "", false
	}
	return s.ConnectionID, true
}

// OnlineUserIDs returns the ids of all online users in no particular order
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.sessions)
	if ids == nil {
		ids = []string{}
	}
	return ids
}

// ActivitySnapshot returns a copy of the userID -> activity table
func (r *Registry) ActivitySnapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapValues(r.sessions, func(s *Session, _ string) string {
		return s.Activity
	})
}

// Len returns the number of online users
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the online ids and the activity table read under one
// lock, so the two always describe the same set of users
func (r *Registry) Snapshot() ([]string, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.sessions)
	if ids == nil {
		ids = []string{}
	}
	activities := lo.MapValues(r.sessions, func(s *Session, _ string) string {
		return s.Activity
	})
	return ids, activities
}

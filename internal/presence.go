package internal

import (
	"sort"
	"sync"
)

type presenceEntry struct {
	username string
	conns    int
}

// PresenceTracker counts live websocket connections per user. A user with
// two terminals open stays online until both are gone.
type PresenceTracker struct {
	mu    sync.Mutex
	users map[string]*presenceEntry
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: make(map[string]*presenceEntry)}
}

// Connected records a new connection and reports whether the user just came
// online.
func (p *PresenceTracker) Connected(userID, username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		entry = &presenceEntry{username: username}
		p.users[userID] = entry
	}
	entry.conns++
	return entry.conns == 1
}

// Disconnected drops one connection and reports whether the user went
// offline.
func (p *PresenceTracker) Disconnected(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		return false
	}
	entry.conns--
	if entry.conns > 0 {
		return false
	}
	delete(p.users, userID)
	return true
}

// Usernames lists the users currently online, sorted.
func (p *PresenceTracker) Usernames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.users))
	for _, entry := range p.users {
		names = append(names, entry.username)
	}
	sort.Strings(names)
	return names
}

// Package player tracks logged-in accounts and their dialed contract
// bundles. A session exists from login until logout or server shutdown;
// contract handles live on the session because they are bound to the
// wallet account that dialed them.
package player

import (
	"sync"
	"time"

	"github.com/gamegems/client/chain"
)

// Session is one logged-in account.
type Session struct {
	Account   chain.Address
	Nickname  string
	Contracts chain.Contracts
	CreatedAt time.Time
}

// Manager is the in-process session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[chain.Address]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[chain.Address]*Session)}
}

// Put registers (or replaces) the session for an account.
func (m *Manager) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Account.Normalize()] = s
}

// Get returns the session for an account, or nil.
func (m *Manager) Get(account chain.Address) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[account.Normalize()]
}

// Remove drops the session for an account.
func (m *Manager) Remove(account chain.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, account.Normalize())
}

// All returns a snapshot of every live session.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

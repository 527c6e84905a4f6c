package pty

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Manager tracks all live sessions for the daemon.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    atomic.Uint64

	defaultShell string
	defaultRows  int
	defaultCols  int
	backend      string
	backlogCapB  int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	DefaultShell string
	DefaultRows  int
	DefaultCols  int
	Backend      string
	BacklogCapB  int
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		sessions:     make(map[string]*Session),
		defaultShell: cfg.DefaultShell,
		defaultRows:  cfg.DefaultRows,
		defaultCols:  cfg.DefaultCols,
		backend:      cfg.Backend,
		backlogCapB:  cfg.BacklogCapB,
	}
}

// CreateSession spawns a new session using build to construct the child
// process (see CommandBuilder). cmdOverride/argsOverride, if non-empty,
// override the manager's default shell.
func (m *Manager) CreateSession(build CommandBuilder, cmdOverride string, args []string, rows, cols int) (*Session, error) {
	id := uuid.NewString()
	shell := cmdOverride
	if shell == "" {
		shell = m.defaultShell
	}
	if rows <= 0 {
		rows = m.defaultRows
	}
	if cols <= 0 {
		cols = m.defaultCols
	}

	order := m.order.Add(1)
	session, err := Spawn(Config{
		ID:           id,
		CreatedOrder: order,
		Shell:        shell,
		Args:         args,
		Rows:         rows,
		Cols:         cols,
		Backend:      m.backend,
		BacklogCapB:  m.backlogCapB,
		Build:        build,
		OnClose:      m.removeSession,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()
	return session, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close terminates and removes a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	s.Terminate()
	return nil
}

// CloseAll terminates every live session, for daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Terminate()
	}
}

// CleanupIdle terminates sessions that have been idle longer than maxIdle,
// returning how many were closed.
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.IdleFor() > maxIdle {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()
	for _, s := range stale {
		s.Terminate()
	}
	return len(stale)
}

func (m *Manager) removeSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions, for metrics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

package tokenstore

import "sync"

// Memory keeps tokens in process memory. It is the session-scoped backend:
// tokens vanish when the process exits.
type Memory struct {
	mu     sync.RWMutex
	tokens Tokens
	set    bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load() (Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Tokens{}, ErrNoTokens
	}
	return m.tokens, nil
}

func (m *Memory) Save(t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	m.set = true
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = Tokens{}
	m.set = false
	return nil
}

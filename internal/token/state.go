package token

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// unknownAddress is what proxies report when the client address is missing.
const unknownAddress = "unknown"

// StateContext is optional linking context carried by a login state token.
type StateContext struct {
	Context     string `json:"context,omitempty"`
	Counterpart string `json:"counterpart,omitempty"`
}

type stateEntry struct {
	addr     string
	issuedAt time.Time
	extra    StateContext
}

// StateManager issues single-use login state tokens bound to the client
// network address. Expired tokens are swept on every Issue call.
type StateManager struct {
	ttl     time.Duration
	entries *xsync.MapOf[string, stateEntry]
	now     func() time.Time
}

func NewStateManager(ttl time.Duration) *StateManager {
	return &StateManager{
		ttl:     ttl,
		entries: xsync.NewMapOf[string, stateEntry](),
		now:     time.Now,
	}
}

func (m *StateManager) WithClock(now func() time.Time) *StateManager {
	m.now = now
	return m
}

// Issue mints a token for addr with optional linking context.
func (m *StateManager) Issue(addr string, extra StateContext) (string, error) {
	now := m.now()
	m.sweep(now)

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)
	m.entries.Store(tok, stateEntry{addr: addr, issuedAt: now, extra: extra})
	return tok, nil
}

// ValidateAndConsume removes the token and reports whether it was valid for
// addr. A token is consumed even when validation fails.
func (m *StateManager) ValidateAndConsume(tok, addr string) (StateContext, bool) {
	e, ok := m.entries.LoadAndDelete(tok)
	if !ok {
		return StateContext{}, false
	}
	if m.now().Sub(e.issuedAt) > m.ttl {
		return StateContext{}, false
	}
	if !knownAddress(addr) || !knownAddress(e.addr) || addr != e.addr {
		return StateContext{}, false
	}
	return e.extra, true
}

// Len returns the number of outstanding tokens.
func (m *StateManager) Len() int {
	return m.entries.Size()
}

func (m *StateManager) sweep(now time.Time) {
	m.entries.Range(func(tok string, e stateEntry) bool {
		if now.Sub(e.issuedAt) > m.ttl {
			m.entries.Delete(tok)
		}
		return true
	})
}

func knownAddress(addr string) bool {
	return addr != "" && addr != unknownAddress
}

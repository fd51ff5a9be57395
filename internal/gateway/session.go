package gateway

import (
	"sync"

	"github.com/metantonio/open-first-agent/internal/protocol"
)

// Session holds the per-connection state the routing rules depend on. One
// session per websocket; it dies with the connection.
type Session struct {
	ID string

	mu             sync.Mutex
	mode           string
	browserEnabled bool
	currentPrompt  string
	commandSeq     int
}

func newSession(id string) *Session {
	return &Session{
		ID:   id,
		mode: protocol.ModeChat,
	}
}

func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// ToggleMode flips chat<->terminal and returns the new mode.
func (s *Session) ToggleMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == protocol.ModeChat {
		s.mode = protocol.ModeTerminal
	} else {
		s.mode = protocol.ModeChat
	}
	return s.mode
}

func (s *Session) BrowserEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browserEnabled
}

func (s *Session) SetBrowserEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browserEnabled = enabled
}

func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPrompt
}

func (s *Session) SetPrompt(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPrompt = p
}

// NextCommandSeq numbers commands within the session, starting at 1.
func (s *Session) NextCommandSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandSeq++
	return s.commandSeq
}

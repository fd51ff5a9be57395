// Package orchestrator is the chat side of the assistant: it sends user
// messages to a chat-completions endpoint and turns the reply into displayable
// text plus runnable command blocks.
package orchestrator

import (
	"context"
	"fmt"
)

// Snapshot is a read-only view of the session handed to the handler with each
// message, so replies can reflect the terminal the user is looking at.
type Snapshot struct {
	Mode           string
	BrowserEnabled bool
	SSHConnected   bool
	WorkingDir     string
	Prompt         string
}

// ResponseEvent is one element of an orchestrator reply, in display order.
type ResponseEvent interface{ responseEvent() }

// ChatText is assistant prose to render in the chat pane.
type ChatText struct {
	Text string
}

// CommandBlock is a runnable command the assistant proposed. Index is
// 1-based and counts blocks within a single reply.
type CommandBlock struct {
	Index      int
	Command    string
	WorkingDir string
}

func (ChatText) responseEvent()     {}
func (CommandBlock) responseEvent() {}

// Handler processes one chat message and returns the reply events in order.
type Handler interface {
	Handle(ctx context.Context, text string, snap Snapshot) ([]ResponseEvent, error)
}

// SeedMessage is one line of a persisted transcript. Sender is "user" or
// "assistant"; other senders are skipped when seeding.
type SeedMessage struct {
	Sender  string
	Content string
}

// HistorySeeder is implemented by handlers that keep a conversation window
// and can warm it from a persisted transcript, so a reconnecting session
// continues where it left off.
type HistorySeeder interface {
	SeedHistory(msgs []SeedMessage)
}

// Error wraps a provider failure. The session survives; the gateway surfaces
// the failure as a system chat message.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("orchestrator: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

package history

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ChatMessage is one chat pane entry. Sender is "user", "assistant" or
// "system".
type ChatMessage struct {
	ID        string
	SessionID string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// CommandRecord is one executed terminal command with the prompt it ran
// under and the output it produced.
type CommandRecord struct {
	ID        string
	SessionID string
	Prompt    string
	Command   string
	Output    string
	CreatedAt time.Time
}

func newID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

package history

import (
	"context"
	"fmt"
)

func (s *Store) AppendChat(ctx context.Context, msg *ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("chat message is required")
	}
	if msg.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		msg.ID = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = nowUTC()
	}
	_, err := s.conn.ExecContext(ctx, `
INSERT INTO chat_messages (id, session_id, sender, content, created_at)
VALUES (?, ?, ?, ?, ?)
`,
		msg.ID,
		msg.SessionID,
		msg.Sender,
		msg.Content,
		formatTimestamp(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// RecentChat returns up to limit messages for a session in chronological
// order.
func (s *Store) RecentChat(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, session_id, sender, content, created_at
FROM chat_messages
WHERE session_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	out := make([]*ChatMessage, 0, limit)
	for rows.Next() {
		var msg ChatMessage
		var createdAtRaw string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msg.CreatedAt, err = parseTimestamp(createdAtRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating chat messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) AppendCommand(ctx context.Context, rec *CommandRecord) error {
	if rec == nil {
		return fmt.Errorf("command record is required")
	}
	if rec.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = nowUTC()
	}
	_, err := s.conn.ExecContext(ctx, `
INSERT INTO commands (id, session_id, prompt, command, output, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		rec.SessionID,
		rec.Prompt,
		rec.Command,
		rec.Output,
		formatTimestamp(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append command record: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit command records for a session in
// chronological order.
func (s *Store) RecentCommands(ctx context.Context, sessionID string, limit int) ([]*CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, session_id, prompt, command, output, created_at
FROM commands
WHERE session_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list command records: %w", err)
	}
	defer rows.Close()

	out := make([]*CommandRecord, 0, limit)
	for rows.Next() {
		var rec CommandRecord
		var createdAtRaw string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Prompt, &rec.Command, &rec.Output, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan command record: %w", err)
		}
		rec.CreatedAt, err = parseTimestamp(createdAtRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating command records: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ClearTerminal drops the command history for one session.
func (s *Store) ClearTerminal(ctx context.Context, sessionID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM commands WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear command records: %w", err)
	}
	return nil
}

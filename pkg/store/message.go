package store

import (
	"context"
	"database/sql"
	"errors"
)

const messageColumns = `id, session_id, direction, from_number, to_number, body, media_type, media_url, status, error, metadata, created_at, updated_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*Message, error) {
	var m Message
	var mediaType, mediaURL, errText sql.NullString
	err := row.Scan(&m.ID, &m.SessionID, &m.Direction, &m.FromNumber, &m.ToNumber, &m.Body,
		&mediaType, &mediaURL, &m.Status, &errText, &m.Metadata, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if mediaType.Valid {
		m.MediaType = &mediaType.String
	}
	if mediaURL.Valid {
		m.MediaURL = &mediaURL.String
	}
	if errText.Valid {
		m.Error = &errText.String
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	now := nowMillis()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Metadata == "" {
		m.Metadata = "{}"
	}
	if m.Status == "" {
		m.Status = MessagePending
	}
	if m.Direction == "" {
		m.Direction = DirectionOutbound
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, direction, from_number, to_number, body, media_type, media_url, status, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SessionID, m.Direction, m.FromNumber, m.ToNumber, m.Body, nullString(m.MediaType),
		nullString(m.MediaURL), m.Status, nullString(m.Error), m.Metadata, m.CreatedAt, m.UpdatedAt)
	return err
}

// MarkMessageSent finalizes a pending message, recording the provider
// metadata as a JSON document and the media URL when one was uploaded.
func (s *Store) MarkMessageSent(ctx context.Context, id, metadata string, mediaURL *string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, error = NULL, metadata = ?, media_url = COALESCE(?, media_url), updated_at = ? WHERE id = ?
	`, MessageSent, metadata, nullString(mediaURL), nowMillis(), id)
	return err
}

func (s *Store) MarkMessageFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, MessageFailed, errMsg, nowMillis(), id)
	return err
}

func (s *Store) GetMessage(ctx context.Context, sessionID, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ? AND session_id = ?
	`, id, sessionID)
	message, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return message, err
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int, direction string) ([]*Message, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	countQuery := `SELECT COUNT(*) FROM messages WHERE session_id = ?`
	listQuery := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?`
	args := []interface{}{sessionID}
	if direction != "" {
		countQuery += ` AND direction = ?`
		listQuery += ` AND direction = ?`
		args = append(args, direction)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, message)
	}
	return messages, total, rows.Err()
}

func (s *Store) GetMessageStats(ctx context.Context, sessionID string) (*MessageStats, error) {
	var stats MessageStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'inbound' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'outbound' THEN 1 ELSE 0 END), 0)
		FROM messages WHERE session_id = ?
	`, sessionID).Scan(&stats.Total, &stats.Pending, &stats.Sent, &stats.Failed,
		&stats.Inbound, &stats.Outbound)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&total)
	return total, err
}

// DeleteMessagesBefore drops messages created before the cutoff, given
// as epoch milliseconds. Returns the number of rows removed.
func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

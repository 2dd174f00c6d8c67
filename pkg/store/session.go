package store

import (
	"context"
	"database/sql"
	"errors"
)

const sessionColumns = `id, name, status, qr_code, phone_number, webhook_url, settings, created_at, updated_at, last_activity`

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	var s Session
	var qrCode, phoneNumber, webhookURL sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.Status, &qrCode, &phoneNumber, &webhookURL,
		&s.Settings, &s.CreatedAt, &s.UpdatedAt, &s.LastActivity)
	if err != nil {
		return nil, err
	}
	if qrCode.Valid {
		s.QRCode = &qrCode.String
	}
	if phoneNumber.Valid {
		s.PhoneNumber = &phoneNumber.String
	}
	if webhookURL.Valid {
		s.WebhookURL = &webhookURL.String
	}
	return &s, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (s *Store) CreateSession(ctx context.Context, id, name, settings string, webhookURL *string) (*Session, error) {
	now := nowMillis()
	if settings == "" {
		settings = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, status, webhook_url, settings, created_at, updated_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, name, SessionPending, nullString(webhookURL), settings, now, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = ?
	`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

func (s *Store) ListSessions(ctx context.Context, status string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionState applies a connection-state transition. The QR code
// and phone number are overwritten as given, so a transition to
// connected clears the code by passing nil.
func (s *Store) UpdateSessionState(ctx context.Context, id, status string, qrCode, phoneNumber *string) error {
	now := nowMillis()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, qr_code = ?, phone_number = ?, updated_at = ?, last_activity = ?
		WHERE id = ?
	`, status, nullString(qrCode), nullString(phoneNumber), now, now, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchSessionActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ? WHERE id = ?
	`, nowMillis(), id)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountSessionsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sessions GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

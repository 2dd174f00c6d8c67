package store

import (
	"context"
	"database/sql"
	"errors"
)

const apiKeyColumns = `key_hash, name, permissions, created_at, expires_at, last_used_at`

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*APIKey, error) {
	var k APIKey
	var expiresAt, lastUsedAt sql.NullInt64
	err := row.Scan(&k.KeyHash, &k.Name, &k.Permissions, &k.CreatedAt, &expiresAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Int64
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Int64
	}
	return &k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, keyHash, name, permissions string, expiresAt *int64) (*APIKey, error) {
	if permissions == "" {
		permissions = `["read","write"]`
	}
	var expires sql.NullInt64
	if expiresAt != nil {
		expires = sql.NullInt64{Int64: *expiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_hash, name, permissions, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, keyHash, name, permissions, nowMillis(), expires)
	if err != nil {
		return nil, err
	}
	return s.GetAPIKey(ctx, keyHash)
}

func (s *Store) GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?
	`, keyHash)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return key, err
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) DeleteAPIKey(ctx context.Context, keyHash string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE key_hash = ?`, keyHash)
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

func (s *Store) TouchAPIKey(ctx context.Context, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?
	`, nowMillis(), keyHash)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&total)
	return total, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TokenKey is the credential row holding the session token.
const TokenKey = "token"

// ErrNoToken is returned when no session token is stored.
var ErrNoToken = errors.New("no session token stored")

// SetCredential upserts a named credential.
func (db *DB) SetCredential(ctx context.Context, name, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set credential %s: %w", name, err)
	}
	return nil
}

// Credential reads a named credential. A missing row returns sql.ErrNoRows.
func (db *DB) Credential(ctx context.Context, name string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE name = ?`, name).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("get credential %s: %w", name, err)
	}
	return value, nil
}

// DeleteCredential removes a named credential. Deleting a missing row is not
// an error.
func (db *DB) DeleteCredential(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete credential %s: %w", name, err)
	}
	return nil
}

// SetToken stores the session token.
func (db *DB) SetToken(ctx context.Context, token string) error {
	return db.SetCredential(ctx, TokenKey, token)
}

// Token returns the stored session token, or ErrNoToken.
func (db *DB) Token(ctx context.Context) (string, error) {
	token, err := db.Credential(ctx, TokenKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// ClearToken forgets the session token.
func (db *DB) ClearToken(ctx context.Context) error {
	return db.DeleteCredential(ctx, TokenKey)
}

package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"planify/app/session"
	"planify/core/logger"
)

// Service stores user profiles, credentials, and settings in Postgres.
// It implements session.Users and the calendar backend's CredentialStore.
type Service struct {
	db *sqlx.DB
}

// NewService wraps an open database handle.
func NewService(db *sqlx.DB) *Service {
	return &Service{db: db}
}

// Upsert records the profile on first contact and refreshes it afterwards.
func (s *Service) Upsert(ctx context.Context, p session.Profile) error {
	const q = `
		INSERT INTO users (id, username, first_name, language)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username   = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			language   = EXCLUDED.language,
			updated_at = now()`

	if _, err := s.db.ExecContext(ctx, q, p.ID, p.Username, p.FirstName, p.Language); err != nil {
		return fmt.Errorf("users: upsert: %w", err)
	}

	logger.Debug(ctx, "svc.users", "upsert.ok", slog.Int64("user_id", p.ID))
	return nil
}

// Authorized reports whether a stored credential exists for the user.
func (s *Service) Authorized(ctx context.Context, userID int64) (bool, error) {
	const q = `SELECT google_token IS NOT NULL FROM users WHERE id = $1`

	var ok bool
	err := s.db.GetContext(ctx, &ok, q, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("users: authorized check: %w", err)
	}
	return ok, nil
}

// Credential returns the stored OAuth token bytes, or nil when absent.
func (s *Service) Credential(ctx context.Context, userID int64) ([]byte, error) {
	const q = `SELECT google_token FROM users WHERE id = $1`

	var data []byte
	err := s.db.GetContext(ctx, &data, q, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: credential load: %w", err)
	}
	return data, nil
}

// SaveCredential stores the OAuth token bytes, creating the row if the
// grant somehow finished before first contact.
func (s *Service) SaveCredential(ctx context.Context, userID int64, data []byte) error {
	const q = `
		INSERT INTO users (id, google_token)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			google_token = EXCLUDED.google_token,
			updated_at   = now()`

	if _, err := s.db.ExecContext(ctx, q, userID, data); err != nil {
		return fmt.Errorf("users: credential save: %w", err)
	}

	logger.Info(ctx, "svc.users", "credential.saved", slog.Int64("user_id", userID))
	return nil
}

// GetSettings loads the user's preferences; absent rows yield defaults.
func (s *Service) GetSettings(ctx context.Context, userID int64) (session.Settings, error) {
	const q = `SELECT settings FROM users WHERE id = $1`

	var raw []byte
	err := s.db.GetContext(ctx, &raw, q, userID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(raw) == 0) {
		return session.Settings{}, nil
	}
	if err != nil {
		return session.Settings{}, fmt.Errorf("users: settings load: %w", err)
	}

	var out session.Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return session.Settings{}, fmt.Errorf("users: settings decode: %w", err)
	}
	return out, nil
}

// SaveSettings persists the user's preferences as JSON.
func (s *Service) SaveSettings(ctx context.Context, userID int64, st session.Settings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("users: settings encode: %w", err)
	}

	const q = `
		INSERT INTO users (id, settings)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			settings   = EXCLUDED.settings,
			updated_at = now()`

	if _, err := s.db.ExecContext(ctx, q, userID, raw); err != nil {
		return fmt.Errorf("users: settings save: %w", err)
	}
	return nil
}

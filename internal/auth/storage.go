package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Storage handles auth data persistence in the auth_config table. The
// table holds a single row with client credentials and the current
// token set.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// StoredTokens represents the tokens stored in the database
type StoredTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// ClientConfig represents the stored client credentials
type ClientConfig struct {
	ClientID     string
	ClientSecret string
}

// SaveClientConfig saves client credentials, clearing any stored tokens
func (s *Storage) SaveClientConfig(ctx context.Context, clientID, clientSecret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_config (id, client_id, client_secret, access_token, refresh_token, expires_at)
		VALUES (1, ?, ?, NULL, NULL, NULL)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			access_token = NULL,
			refresh_token = NULL,
			expires_at = NULL`,
		clientID, clientSecret)
	if err != nil {
		return fmt.Errorf("saving client config: %w", err)
	}
	return nil
}

// SaveFullConfig saves client credentials and tokens together
func (s *Storage) SaveFullConfig(ctx context.Context, clientID, clientSecret string, tokens *TokenResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_config (id, client_id, client_secret, access_token, refresh_token, expires_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at`,
		clientID, clientSecret, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if err != nil {
		return fmt.Errorf("saving auth config: %w", err)
	}
	return nil
}

// SaveTokens updates the stored tokens, preserving client credentials
func (s *Storage) SaveTokens(ctx context.Context, tokens *TokenResponse) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_config
		SET access_token = ?, refresh_token = ?, expires_at = ?
		WHERE id = 1`,
		tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no client config found: run 'tempo auth' first")
	}
	return nil
}

// LoadTokens loads tokens from the database
func (s *Storage) LoadTokens(ctx context.Context) (*StoredTokens, error) {
	var (
		accessToken  sql.NullString
		refreshToken sql.NullString
		expiresAt    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at FROM auth_config WHERE id = 1`).
		Scan(&accessToken, &refreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("not authenticated: run 'tempo auth' first")
	}
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	if !accessToken.Valid {
		return nil, fmt.Errorf("not authenticated: run 'tempo auth' first")
	}

	return &StoredTokens{
		AccessToken:  accessToken.String,
		RefreshToken: refreshToken.String,
		ExpiresAt:    expiresAt.Int64,
	}, nil
}

// LoadClientConfig loads client credentials from the database
func (s *Storage) LoadClientConfig(ctx context.Context) (*ClientConfig, error) {
	var config ClientConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, client_secret FROM auth_config WHERE id = 1`).
		Scan(&config.ClientID, &config.ClientSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client not configured: run 'tempo auth' first")
	}
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}
	return &config, nil
}

// DeleteTokens removes the stored auth config from the database
func (s *Storage) DeleteTokens(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_config WHERE id = 1`); err != nil {
		return fmt.Errorf("deleting auth config: %w", err)
	}
	return nil
}

// GetValidAccessToken returns a valid access token, refreshing if necessary
func (s *Storage) GetValidAccessToken(ctx context.Context) (string, error) {
	tokens, err := s.LoadTokens(ctx)
	if err != nil {
		return "", err
	}

	if !IsTokenExpired(tokens.ExpiresAt) {
		return tokens.AccessToken, nil
	}

	config, err := s.LoadClientConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading client config for refresh: %w", err)
	}

	newTokens, err := RefreshAccessToken(config.ClientID, config.ClientSecret, tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}

	if err := s.SaveTokens(ctx, newTokens); err != nil {
		return "", fmt.Errorf("saving refreshed tokens: %w", err)
	}

	return newTokens.AccessToken, nil
}

package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/aftras/crm-api/internal/domain"
	"github.com/google/uuid"
)

// ============================================================
// AuthStore implementation — credential system via PostgREST
// ============================================================

// --- Credentials ---

func (c *Client) CreateCredentials(ctx context.Context, userID, passwordHash string) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCredentials")
	defer span.End()

	data := map[string]any{
		"id":            uuid.New().String(),
		"user_id":       userID,
		"password_hash": passwordHash,
	}

	if _, err := c.doPost(ctx, "auth_credentials", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

func (c *Client) GetCredentials(ctx context.Context, userID string) (*domain.AuthCredential, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCredentials")
	defer span.End()

	row, err := fetchOne[domain.AuthCredential](ctx, c, fmt.Sprintf("auth_credentials?user_id=eq.%s&limit=1", userID))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	if row == nil {
		return nil, &domain.ErrNotFound{Resource: "credentials", ID: userID}
	}
	return row, nil
}

func (c *Client) UpdateCredentials(ctx context.Context, userID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateCredentials")
	defer span.End()

	path := fmt.Sprintf("auth_credentials?user_id=eq.%s", userID)
	if err := c.doPatch(ctx, path, updates); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

func (c *Client) DeleteCredentials(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteCredentials")
	defer span.End()

	path := fmt.Sprintf("auth_credentials?user_id=eq.%s", userID)
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

// --- Refresh tokens ---

func (c *Client) StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.StoreRefreshToken")
	defer span.End()

	data := map[string]any{
		"id":         uuid.New().String(),
		"user_id":    userID,
		"token_hash": tokenHash,
		"expires_at": expiresAt.Format(time.RFC3339),
		"revoked":    false,
	}

	if _, err := c.doPost(ctx, "auth_refresh_tokens", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

func (c *Client) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.AuthRefreshToken, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRefreshToken")
	defer span.End()

	path := fmt.Sprintf("auth_refresh_tokens?token_hash=eq.%s&revoked=eq.false&limit=1", tokenHash)
	row, err := fetchOne[domain.AuthRefreshToken](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return row, nil
}

func (c *Client) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RevokeRefreshToken")
	defer span.End()

	path := fmt.Sprintf("auth_refresh_tokens?token_hash=eq.%s", tokenHash)
	if err := c.doPatch(ctx, path, map[string]any{"revoked": true}); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

func (c *Client) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RevokeAllRefreshTokens")
	defer span.End()

	path := fmt.Sprintf("auth_refresh_tokens?user_id=eq.%s&revoked=eq.false", userID)
	if err := c.doPatch(ctx, path, map[string]any{"revoked": true}); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

// --- Password reset codes ---

func (c *Client) StoreResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.StoreResetCode")
	defer span.End()

	data := map[string]any{
		"id":         uuid.New().String(),
		"user_id":    userID,
		"code":       code,
		"expires_at": expiresAt.Format(time.RFC3339),
		"used":       false,
	}

	if _, err := c.doPost(ctx, "auth_password_reset_codes", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

func (c *Client) GetValidResetCode(ctx context.Context, userID, code string) (*domain.AuthPasswordResetCode, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetValidResetCode")
	defer span.End()

	now := time.Now().UTC().Format(time.RFC3339)
	path := fmt.Sprintf("auth_password_reset_codes?user_id=eq.%s&code=eq.%s&used=eq.false&expires_at=gt.%s&order=created_at.desc&limit=1",
		userID, code, now)
	row, err := fetchOne[domain.AuthPasswordResetCode](ctx, c, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return row, nil
}

func (c *Client) MarkResetCodeUsed(ctx context.Context, codeID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkResetCodeUsed")
	defer span.End()

	path := fmt.Sprintf("auth_password_reset_codes?id=eq.%s", codeID)
	if err := c.doPatch(ctx, path, map[string]any{"used": true}); err != nil {
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}

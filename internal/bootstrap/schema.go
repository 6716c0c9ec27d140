package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		id BIGINT PRIMARY KEY,
		user_id TEXT,
		client_id TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		token_type TEXT NOT NULL DEFAULT 'Bearer',
		expires_in BIGINT,
		expires_at TIMESTAMPTZ,
		scope TEXT[],
		grant_type TEXT,
		redirect_uri TEXT,
		code_verifier TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_client_status ON oauth_tokens (client_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user_status ON oauth_tokens (user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_expires_at ON oauth_tokens (expires_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		meli_user_id TEXT NOT NULL UNIQUE,
		nickname TEXT,
		email TEXT,
		site_id TEXT,
		oauth_token_id BIGINT REFERENCES oauth_tokens (id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the token and user tables on startup if missing.
func EnsureSchema(lc fx.Lifecycle, pool *pgxpool.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSchema(ctx, pool, logger)
		},
	})
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	logger.Info("schema ensured")
	return nil
}

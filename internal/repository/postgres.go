package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storelink/meli-auth/internal/crypto"
	"github.com/storelink/meli-auth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TokenRepository = (*PostgresTokenRepo)(nil)
	_ UserRepository  = (*PostgresUserRepo)(nil)
)

const tokenColumns = `id, user_id, client_id, access_token, refresh_token, token_type, expires_in, expires_at, scope, grant_type, redirect_uri, code_verifier, status, last_used_at, created_at, updated_at`

// PostgresTokenRepo implements TokenRepository on pgx, applying the secret
// cipher on every read and write path.
type PostgresTokenRepo struct {
	db     *pgxpool.Pool
	cipher *crypto.Cipher
	node   *snowflake.Node
}

func NewPostgresTokenRepo(pool *pgxpool.Pool, cipher *crypto.Cipher, node *snowflake.Node) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool, cipher: cipher, node: node}
}

const selectTokenForUpsertSQL = `SELECT id FROM oauth_tokens
WHERE client_id = $1 AND user_id IS NOT DISTINCT FROM $2
LIMIT 1`

const updateTokenSQL = `UPDATE oauth_tokens
SET access_token = $2,
    refresh_token = $3,
    token_type = $4,
    expires_in = $5,
    expires_at = $6,
    scope = $7,
    status = 'active',
    last_used_at = now(),
    updated_at = now()
WHERE id = $1
RETURNING ` + tokenColumns

const insertTokenSQL = `INSERT INTO oauth_tokens (id, user_id, client_id, access_token, refresh_token, token_type, expires_in, expires_at, scope, grant_type, redirect_uri, code_verifier, status, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'active', now())
RETURNING ` + tokenColumns

func (r *PostgresTokenRepo) Upsert(ctx context.Context, key UpsertKey, fields UpsertFields) (domain.Token, error) {
	accessToken, err := r.cipher.EncryptString(fields.AccessToken)
	if err != nil {
		return domain.Token{}, fmt.Errorf("seal access token: %w", err)
	}
	var refreshToken *string
	if fields.RefreshToken != "" {
		sealed, err := r.cipher.EncryptString(fields.RefreshToken)
		if err != nil {
			return domain.Token{}, fmt.Errorf("seal refresh token: %w", err)
		}
		refreshToken = &sealed
	}

	tokenType := fields.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	var existingID int64
	err = r.db.QueryRow(ctx, selectTokenForUpsertSQL, key.ClientID, key.UserID).Scan(&existingID)
	switch {
	case err == nil:
		row := r.db.QueryRow(ctx, updateTokenSQL,
			existingID,
			accessToken,
			refreshToken,
			tokenType,
			fields.ExpiresIn,
			fields.ExpiresAt,
			fields.Scope,
		)
		return r.scanToken(row, "update token")
	case errors.Is(err, pgx.ErrNoRows):
		grantType := fields.GrantType
		if grantType == "" {
			grantType = "authorization_code"
		}
		var codeVerifier *string
		if fields.CodeVerifier != "" {
			sealed, err := r.cipher.EncryptString(fields.CodeVerifier)
			if err != nil {
				return domain.Token{}, fmt.Errorf("seal code verifier: %w", err)
			}
			codeVerifier = &sealed
		}
		row := r.db.QueryRow(ctx, insertTokenSQL,
			r.node.Generate().Int64(),
			key.UserID,
			key.ClientID,
			accessToken,
			refreshToken,
			tokenType,
			fields.ExpiresIn,
			fields.ExpiresAt,
			fields.Scope,
			grantType,
			fields.RedirectURI,
			codeVerifier,
		)
		return r.scanToken(row, "insert token")
	default:
		return domain.Token{}, fmt.Errorf("find token for upsert: %w", err)
	}
}

const findActiveTokenSQL = `SELECT ` + tokenColumns + ` FROM oauth_tokens
WHERE client_id = $1
  AND ($2::text IS NULL OR user_id = $2)
  AND status = 'active'
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY updated_at DESC
LIMIT 1`

func (r *PostgresTokenRepo) FindActive(ctx context.Context, clientID string, userID *string) (domain.Token, error) {
	row := r.db.QueryRow(ctx, findActiveTokenSQL, clientID, userID)
	return r.scanToken(row, "find active token")
}

const findCurrentTokenSQL = `SELECT ` + tokenColumns + ` FROM oauth_tokens
WHERE client_id = $1
  AND ($2::text IS NULL OR user_id = $2)
  AND status = 'active'
ORDER BY updated_at DESC
LIMIT 1`

func (r *PostgresTokenRepo) FindCurrent(ctx context.Context, clientID string, userID *string) (domain.Token, error) {
	row := r.db.QueryRow(ctx, findCurrentTokenSQL, clientID, userID)
	return r.scanToken(row, "find current token")
}

const findTokenByIDSQL = `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE id = $1`

func (r *PostgresTokenRepo) FindByID(ctx context.Context, id int64) (domain.Token, error) {
	row := r.db.QueryRow(ctx, findTokenByIDSQL, id)
	return r.scanToken(row, "find token by id")
}

const listTokensSQL = `SELECT ` + tokenColumns + ` FROM oauth_tokens
WHERE ($1 = '' OR client_id = $1)
  AND ($2::text IS NULL OR user_id = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC`

func (r *PostgresTokenRepo) List(ctx context.Context, filter TokenFilter) ([]domain.Token, error) {
	rows, err := r.db.Query(ctx, listTokensSQL, filter.ClientID, filter.UserID, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.Token
	for rows.Next() {
		token, err := r.scanToken(rows, "list tokens")
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

const revokeTokenSQL = `UPDATE oauth_tokens SET status = 'revoked', updated_at = now() WHERE id = $1`

func (r *PostgresTokenRepo) Revoke(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, revokeTokenSQL, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

const sweepExpiredSQL = `UPDATE oauth_tokens
SET status = 'expired', updated_at = now()
WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < now()`

func (r *PostgresTokenRepo) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, sweepExpiredSQL)
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

const touchTokenSQL = `UPDATE oauth_tokens SET last_used_at = now() WHERE id = $1`

func (r *PostgresTokenRepo) TouchLastUsed(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, touchTokenSQL, id); err != nil {
		return fmt.Errorf("touch token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) scanToken(row pgx.Row, op string) (domain.Token, error) {
	var (
		token        domain.Token
		accessToken  string
		refreshToken *string
		codeVerifier *string
		status       string
	)
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.ClientID,
		&accessToken,
		&refreshToken,
		&token.TokenType,
		&token.ExpiresIn,
		&token.ExpiresAt,
		&token.Scope,
		&token.GrantType,
		&token.RedirectURI,
		&codeVerifier,
		&status,
		&token.LastUsedAt,
		&token.CreatedAt,
		&token.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Token{}, domain.ErrTokenNotFound
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("%s: %w", op, err)
	}
	token.Status = domain.TokenStatus(status)

	if token.AccessToken, err = r.cipher.DecryptString(accessToken); err != nil {
		return domain.Token{}, fmt.Errorf("%s: open access token: %w", op, err)
	}
	if refreshToken != nil {
		if token.RefreshToken, err = r.cipher.DecryptString(*refreshToken); err != nil {
			return domain.Token{}, fmt.Errorf("%s: open refresh token: %w", op, err)
		}
	}
	if codeVerifier != nil {
		if token.CodeVerifier, err = r.cipher.DecryptString(*codeVerifier); err != nil {
			return domain.Token{}, fmt.Errorf("%s: open code verifier: %w", op, err)
		}
	}
	return token, nil
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresUserRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool, node: node}
}

const userColumns = `id, meli_user_id, nickname, email, site_id, oauth_token_id, created_at, updated_at`

const upsertUserSQL = `INSERT INTO users (id, meli_user_id, nickname, email, site_id, oauth_token_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (meli_user_id) DO UPDATE
SET nickname = EXCLUDED.nickname,
    email = EXCLUDED.email,
    site_id = EXCLUDED.site_id,
    oauth_token_id = EXCLUDED.oauth_token_id,
    updated_at = now()
RETURNING ` + userColumns

func (r *PostgresUserRepo) UpsertFromMeli(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, upsertUserSQL,
		r.node.Generate().Int64(),
		user.MeliUserID,
		user.Nickname,
		user.Email,
		user.SiteID,
		user.OAuthTokenID,
	)
	return scanUser(row, "upsert user")
}

const getUserByMeliIDSQL = `SELECT ` + userColumns + ` FROM users WHERE meli_user_id = $1`

func (r *PostgresUserRepo) GetByMeliUserID(ctx context.Context, meliUserID string) (domain.User, error) {
	row := r.db.QueryRow(ctx, getUserByMeliIDSQL, meliUserID)
	return scanUser(row, "get user")
}

func scanUser(row pgx.Row, op string) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.MeliUserID,
		&user.Nickname,
		&user.Email,
		&user.SiteID,
		&user.OAuthTokenID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

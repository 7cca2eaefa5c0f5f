package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/useradmin/internal/domain/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// satisfied by both *pgxpool.Pool and pgx.Tx
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type RefreshTokensRepo struct {
	pool *pgxpool.Pool
	obs  Observer
	now  func() time.Time
}

func NewRefreshTokensRepo(pool *pgxpool.Pool, obs Observer) *RefreshTokensRepo {
	return &RefreshTokensRepo{pool: pool, obs: observerOrNoop(obs), now: time.Now}
}

func (r *RefreshTokensRepo) Create(ctx context.Context, t session.RefreshToken) error {
	return r.obs.ObserveDB("refresh_tokens.create", func() error {
		return insertRefreshToken(ctx, r.pool, t)
	})
}

// Rotate atomically swaps the token identified by oldID for next. The old row
// is locked so two concurrent refreshes with the same token cannot both win.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, oldID, presentedHash string, next session.RefreshToken) (session.RefreshToken, error) {
	var current session.RefreshToken

	err := r.obs.ObserveDB("refresh_tokens.rotate", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		current, err = getForUpdate(ctx, tx, oldID)
		if err != nil {
			return err
		}

		if err := current.CheckRotatable(presentedHash, r.now().UTC()); err != nil {
			return err
		}

		if err := revoke(ctx, tx, current.ID, &next.ID); err != nil {
			return err
		}

		next.UserID = current.UserID
		if err := insertRefreshToken(ctx, tx, next); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		return session.RefreshToken{}, err
	}

	return current, nil
}

// Revoke is idempotent.
func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	return r.obs.ObserveDB("refresh_tokens.revoke", func() error {
		err := revoke(ctx, r.pool, id, nil)
		if isInvalidText(err) {
			return nil
		}
		return err
	})
}

// RevokeUser revokes every live refresh token of a user.
func (r *RefreshTokensRepo) RevokeUser(ctx context.Context, userID string) error {
	return r.obs.ObserveDB("refresh_tokens.revoke_user", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW()
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID)
		return err
	})
}

func insertRefreshToken(ctx context.Context, db executor, t session.RefreshToken) error {
	_, err := db.Exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.RevokedAt, t.ReplacedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func revoke(ctx context.Context, db executor, id string, replacedBy *string) error {
	_, err := db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = COALESCE(revoked_at, NOW()), replaced_by = COALESCE($2, replaced_by)
		WHERE id = $1
	`, id, replacedBy)

	return err
}

// Locks the row to prevent concurrent refresh races
func getForUpdate(ctx context.Context, tx pgx.Tx, id string) (session.RefreshToken, error) {
	var t session.RefreshToken

	err := tx.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
		FROM refresh_tokens
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.ReplacedBy,
		&t.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return session.RefreshToken{}, session.ErrRefreshNotFound
		}

		return session.RefreshToken{}, err
	}

	return t, nil
}

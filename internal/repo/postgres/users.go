package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, name, role, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	obs  Observer
}

func NewUsersRepo(pool *pgxpool.Pool, obs Observer) *UsersRepo {
	return &UsersRepo{pool: pool, obs: observerOrNoop(obs)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (user.User, error) {
	var u user.User
	var role string

	dest := append([]any{&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	var created user.User

	err := r.obs.ObserveDB("users.create", func() error {
		var err error
		created, err = scanUser(r.pool.QueryRow(ctx,
			`INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING `+userColumns,
			u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role), u.CreatedAt, u.UpdatedAt,
		))
		return err
	})

	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrDuplicateEmail
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	return created, nil
}

// Upsert inserts u unless its email exists; the stored user is returned either way.
func (r *UsersRepo) Upsert(ctx context.Context, u user.User) (user.User, bool, error) {
	var stored user.User

	err := r.obs.ObserveDB("users.upsert", func() error {
		var err error
		stored, err = scanUser(r.pool.QueryRow(ctx,
			`INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (email) DO NOTHING
			RETURNING `+userColumns,
			u.ID, u.Email, u.PasswordHash, u.Name, string(u.Role), u.CreatedAt, u.UpdatedAt,
		))
		return err
	})

	if err == nil {
		return stored, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, false, fmt.Errorf("upsert user: %w", err)
	}

	existing, err := r.GetByEmail(ctx, u.Email)
	if err != nil {
		return user.User{}, false, err
	}

	return existing, false, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UsersRepo) getOne(ctx context.Context, op, query string, arg any) (user.User, error) {
	var u user.User

	err := r.obs.ObserveDB(op, func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx, query, arg))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// List matches search case-insensitively against name or email.
func (r *UsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error) {
	query := `SELECT ` + userColumns + `, COUNT(*) OVER() AS total FROM users`

	var args []any
	argsPosition := 1

	if filter.Search != "" {
		query += fmt.Sprintf(` WHERE name ILIKE $%d ESCAPE '\' OR email ILIKE $%d ESCAPE '\'`, argsPosition, argsPosition)
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		argsPosition++
	}

	// stable ordering for pagination
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, argsPosition, argsPosition+1)
	args = append(args, filter.Limit, filter.Offset)

	output := make([]user.User, 0, filter.Limit)
	total := 0

	err := r.obs.ObserveDB("users.list", func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows, &total)
			if err != nil {
				return err
			}
			output = append(output, u)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	// past the last page the window count has no row to ride on
	if len(output) == 0 && filter.Offset > 0 {
		total, err = r.countMatching(ctx, filter.Search)
		if err != nil {
			return nil, 0, err
		}
	}

	return output, total, nil
}

func (r *UsersRepo) countMatching(ctx context.Context, search string) (int, error) {
	if search == "" {
		return r.CountTotal(ctx)
	}

	pattern := "%" + escapeLike(search) + "%"
	return r.count(ctx, "users.count_matching",
		`SELECT COUNT(*) FROM users WHERE name ILIKE $1 ESCAPE '\' OR email ILIKE $1 ESCAPE '\'`, pattern)
}

func (r *UsersRepo) Update(ctx context.Context, id string, changes user.Changes) (user.User, error) {
	var u user.User

	err := r.obs.ObserveDB("users.update", func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx,
			`UPDATE users
				SET name = $2,
						email = $3,
						role = $4,
						password_hash = COALESCE($5, password_hash),
						updated_at = NOW()
			WHERE id = $1
			RETURNING `+userColumns,
			id,
			changes.Name,
			changes.Email,
			string(changes.Role),
			changes.PasswordHash,
		))
		return err
	})

	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows), isInvalidText(err):
			return user.User{}, user.ErrNotFound
		case isUniqueViolation(err):
			return user.User{}, user.ErrDuplicateEmail
		default:
			return user.User{}, fmt.Errorf("update user: %w", err)
		}
	}

	return u, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var affected int64

	err := r.obs.ObserveDB("users.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		affected = tag.RowsAffected()
		return err
	})

	if err != nil {
		if isInvalidText(err) {
			return user.ErrNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	// if no rows were deleted as a result return a not found error
	if affected == 0 {
		return user.ErrNotFound
	}

	return nil
}

func (r *UsersRepo) CountTotal(ctx context.Context) (int, error) {
	return r.count(ctx, "users.count_total", `SELECT COUNT(*) FROM users`)
}

func (r *UsersRepo) CountByRole(ctx context.Context, role user.Role) (int, error) {
	return r.count(ctx, "users.count_by_role", `SELECT COUNT(*) FROM users WHERE role = $1`, string(role))
}

func (r *UsersRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx, "users.count_created_since", `SELECT COUNT(*) FROM users WHERE created_at >= $1`, since)
}

func (r *UsersRepo) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int

	err := r.obs.ObserveDB(op, func() error {
		return r.pool.QueryRow(ctx, query, args...).Scan(&n)
	})

	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

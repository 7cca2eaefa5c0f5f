package db

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/google/uuid"
)

// SeedAccount is a default login created by Seed.
type SeedAccount struct {
	Email    string
	Password string
	Name     string
	Role     user.Role
}

var DefaultAccounts = []SeedAccount{
	{Email: "admin@example.com", Password: "admin123", Name: "Admin User", Role: user.RoleAdmin},
	{Email: "user@example.com", Password: "user123", Name: "Test User", Role: user.RoleUser},
}

type Upserter interface {
	Upsert(ctx context.Context, u user.User) (user.User, bool, error)
}

type Hasher interface {
	Hash(plain string) (string, error)
}

type SeedResult struct {
	User    user.User
	Created bool
}

// Seed inserts each account unless its email already exists. Existing
// accounts are left untouched, including their passwords.
func Seed(ctx context.Context, store Upserter, hasher Hasher, accounts []SeedAccount) ([]SeedResult, error) {
	results := make([]SeedResult, 0, len(accounts))

	for _, a := range accounts {
		hash, err := hasher.Hash(a.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", a.Email, err)
		}

		now := time.Now().UTC()

		u, created, err := store.Upsert(ctx, user.User{
			ID:           uuid.NewString(),
			Email:        user.NormalizeEmail(a.Email),
			PasswordHash: hash,
			Name:         a.Name,
			Role:         a.Role,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", a.Email, err)
		}

		results = append(results, SeedResult{User: u, Created: created})
	}

	return results, nil
}

// Package accounts implements user administration on top of a user store and
// the password hasher. Every protected operation takes the acting session
// explicitly and checks it with authz.Require before touching the store.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/authz"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/google/uuid"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	MinPasswordLength = 6

	// RecentWindow backs the recentUsers stat.
	RecentWindow = 7 * 24 * time.Hour
)

type Store interface {
	List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Update(ctx context.Context, id string, changes user.Changes) (user.User, error)
	Delete(ctx context.Context, id string) error
	CountTotal(ctx context.Context) (int, error)
	CountByRole(ctx context.Context, role user.Role) (int, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Check(hash, plain string) (bool, error)
}

// SessionRevoker invalidates outstanding refresh tokens for a user.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) error
}

type Service struct {
	store   Store
	hasher  PasswordHasher
	revoker SessionRevoker
	now     func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

func NewService(store Store, hasher PasswordHasher, revoker SessionRevoker) *Service {
	return &Service{
		store:   store,
		hasher:  hasher,
		revoker: revoker,
		now:     time.Now,
	}
}

type ListParams struct {
	Page   int
	Limit  int
	Search string
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type Page struct {
	Users      []user.User
	Pagination Pagination
}

type CreateInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

type UpdateInput struct {
	Name     string
	Email    string
	Role     string
	Password string // empty keeps the current password
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Authenticate verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	email = user.NormalizeEmail(email)
	if email == "" || password == "" {
		return user.User{}, user.ErrInvalidCredentials
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.checkDecoy(password)
			return user.User{}, user.ErrInvalidCredentials
		}
		return user.User{}, err
	}

	ok, err := s.hasher.Check(u.PasswordHash, password)
	if err != nil {
		return user.User{}, fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return user.User{}, user.ErrInvalidCredentials
	}

	return u, nil
}

func (s *Service) List(ctx context.Context, actor *auth.Session, p ListParams) (Page, error) {
	if err := authz.Require(actor, user.RoleAdmin); err != nil {
		return Page{}, err
	}

	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Page < 1 {
		return Page{}, user.Invalid("page", "must be a positive integer")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return Page{}, user.Invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
	}

	users, total, err := s.store.List(ctx, user.ListFilter{
		Search: strings.TrimSpace(p.Search),
		Limit:  p.Limit,
		Offset: (p.Page - 1) * p.Limit,
	})
	if err != nil {
		return Page{}, err
	}

	return Page{
		Users: users,
		Pagination: Pagination{
			Page:  p.Page,
			Limit: p.Limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(p.Limit))),
		},
	}, nil
}

// Current returns the stored account behind a verified token. It does no
// role check, so callers must already hold a valid token for id.
func (s *Service) Current(ctx context.Context, id string) (user.User, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) Get(ctx context.Context, actor *auth.Session, id string) (user.User, error) {
	if err := authz.Require(actor, user.RoleAdmin); err != nil {
		return user.User{}, err
	}
	return s.store.GetByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, actor *auth.Session, in CreateInput) (user.User, error) {
	if err := authz.Require(actor, user.RoleAdmin); err != nil {
		return user.User{}, err
	}

	if strings.TrimSpace(in.Name) == "" {
		return user.User{}, user.Invalid("name", "is required")
	}
	role, err := parseRole(in.Role)
	if err != nil {
		return user.User{}, err
	}

	return s.create(ctx, in.Name, in.Email, in.Password, role)
}

// Register is self-service sign up; the new account is always a USER.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, error) {
	return s.create(ctx, in.Name, in.Email, in.Password, user.RoleUser)
}

func (s *Service) create(ctx context.Context, name, email, password string, role user.Role) (user.User, error) {
	email, err := validEmail(email)
	if err != nil {
		return user.User{}, err
	}
	if err := validPassword(password); err != nil {
		return user.User{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()

	return s.store.Create(ctx, user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *Service) Update(ctx context.Context, actor *auth.Session, id string, in UpdateInput) (user.User, error) {
	if err := authz.Require(actor, user.RoleAdmin); err != nil {
		return user.User{}, err
	}

	email, err := validEmail(in.Email)
	if err != nil {
		return user.User{}, err
	}
	role, err := parseRole(in.Role)
	if err != nil {
		return user.User{}, err
	}

	changes := user.Changes{
		Name:  strings.TrimSpace(in.Name),
		Email: email,
		Role:  role,
	}

	if in.Password != "" {
		if err := validPassword(in.Password); err != nil {
			return user.User{}, err
		}
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return user.User{}, fmt.Errorf("hash password: %w", err)
		}
		changes.PasswordHash = &hash
	}

	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if existing.Role != role {
		if existing.ID == actor.UserID {
			return user.User{}, user.ErrSelfAction
		}
		if existing.Role == user.RoleAdmin {
			if err := s.ensureAnotherAdmin(ctx); err != nil {
				return user.User{}, err
			}
		}
	}

	updated, err := s.store.Update(ctx, id, changes)
	if err != nil {
		return user.User{}, err
	}

	// refresh tokens carry the role, so a role change must force a fresh login too
	if changes.PasswordHash != nil || existing.Role != role {
		s.revokeSessions(ctx, id)
	}

	return updated, nil
}

func (s *Service) Delete(ctx context.Context, actor *auth.Session, id string) error {
	if err := authz.Require(actor, user.RoleAdmin); err != nil {
		return err
	}

	if id == actor.UserID {
		return user.ErrSelfAction
	}

	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if existing.Role == user.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.revokeSessions(ctx, id)

	return nil
}

func (s *Service) Stats(ctx context.Context, actor *auth.Session) (user.Stats, error) {
	if err := authz.Require(actor, user.RoleAdmin); err != nil {
		return user.Stats{}, err
	}

	total, err := s.store.CountTotal(ctx)
	if err != nil {
		return user.Stats{}, err
	}

	admins, err := s.store.CountByRole(ctx, user.RoleAdmin)
	if err != nil {
		return user.Stats{}, err
	}

	recent, err := s.store.CountCreatedSince(ctx, s.now().UTC().Add(-RecentWindow))
	if err != nil {
		return user.Stats{}, err
	}

	return user.Stats{
		TotalUsers:   total,
		AdminUsers:   admins,
		RegularUsers: total - admins,
		RecentUsers:  recent,
	}, nil
}

// checkDecoy spends one hash comparison so unknown emails answer as slowly
// as wrong passwords.
func (s *Service) checkDecoy(password string) {
	s.decoyOnce.Do(func() {
		s.decoyHash, _ = s.hasher.Hash(uuid.NewString())
	})
	if s.decoyHash != "" {
		_, _ = s.hasher.Check(s.decoyHash, password)
	}
}

// ensureAnotherAdmin fails when removing one admin would leave none.
// The count and the following write are not atomic; two concurrent demotions
// of the last two admins can still both pass.
func (s *Service) ensureAnotherAdmin(ctx context.Context) error {
	admins, err := s.store.CountByRole(ctx, user.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return user.ErrLastAdmin
	}
	return nil
}

func (s *Service) revokeSessions(ctx context.Context, userID string) {
	if s.revoker == nil {
		return
	}
	if err := s.revoker.RevokeUser(ctx, userID); err != nil {
		slog.Default().WarnContext(ctx, "revoke refresh tokens failed", "user_id", userID, "err", err)
	}
}

func parseRole(raw string) (user.Role, error) {
	if strings.TrimSpace(raw) == "" {
		return "", user.Invalid("role", "is required")
	}
	role, ok := user.ParseRole(raw)
	if !ok {
		return "", user.Invalid("role", "must be one of USER, ADMIN")
	}
	return role, nil
}

func validEmail(raw string) (string, error) {
	email := user.NormalizeEmail(raw)
	if email == "" {
		return "", user.Invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", user.Invalid("email", "must be a valid email address")
	}
	return email, nil
}

func validPassword(p string) error {
	if p == "" {
		return user.Invalid("password", "is required")
	}
	if len(p) < MinPasswordLength {
		return user.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	return nil
}

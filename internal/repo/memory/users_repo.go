package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/useradmin/internal/domain/user"
)

// UsersRepo mirrors the postgres store semantics for tests and STORE=memory.
type UsersRepo struct {
	mu    sync.RWMutex
	items map[string]user.User
	now   func() time.Time
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items: make(map[string]user.User),
		now:   time.Now,
	}
}

func (r *UsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTaken(u.Email, "") {
		return user.User{}, user.ErrDuplicateEmail
	}

	r.items[u.ID] = u
	return u, nil
}

// Upsert inserts u unless its email exists; the stored user is returned either way.
func (r *UsersRepo) Upsert(_ context.Context, u user.User) (user.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.Email == u.Email {
			return existing, false, nil
		}
	}

	r.items[u.ID] = u
	return u, true, nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) List(_ context.Context, filter user.ListFilter) ([]user.User, int, error) {
	r.mu.RLock()
	matched := make([]user.User, 0, len(r.items))
	needle := strings.ToLower(filter.Search)
	for _, u := range r.items {
		if needle == "" ||
			strings.Contains(strings.ToLower(u.Name), needle) ||
			strings.Contains(strings.ToLower(u.Email), needle) {
			matched = append(matched, u)
		}
	}
	r.mu.RUnlock()

	// newest first, id breaks ties like the SQL ORDER BY
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []user.User{}, total, nil
	}

	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}

	return matched[filter.Offset:end], total, nil
}

func (r *UsersRepo) Update(_ context.Context, id string, changes user.Changes) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	if r.emailTaken(changes.Email, id) {
		return user.User{}, user.ErrDuplicateEmail
	}

	u.Name = changes.Name
	u.Email = changes.Email
	u.Role = changes.Role
	if changes.PasswordHash != nil {
		u.PasswordHash = *changes.PasswordHash
	}
	u.UpdatedAt = r.now().UTC()

	r.items[id] = u
	return u, nil
}

func (r *UsersRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return user.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *UsersRepo) CountTotal(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items), nil
}

func (r *UsersRepo) CountByRole(_ context.Context, role user.Role) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, u := range r.items {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *UsersRepo) CountCreatedSince(_ context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, u := range r.items {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// caller holds the lock
func (r *UsersRepo) emailTaken(email, exceptID string) bool {
	for id, u := range r.items {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

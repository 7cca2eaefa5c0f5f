package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/useradmin/internal/domain/session"
)

type RefreshTokensRepo struct {
	mu    sync.Mutex
	items map[string]session.RefreshToken
	now   func() time.Time
}

func NewRefreshTokensRepo() *RefreshTokensRepo {
	return &RefreshTokensRepo{
		items: make(map[string]session.RefreshToken),
		now:   time.Now,
	}
}

func (r *RefreshTokensRepo) Create(_ context.Context, t session.RefreshToken) error {
	r.mu.Lock()
	r.items[t.ID] = t
	r.mu.Unlock()
	return nil
}

func (r *RefreshTokensRepo) Rotate(_ context.Context, oldID, presentedHash string, next session.RefreshToken) (session.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[oldID]
	if !ok {
		return session.RefreshToken{}, session.ErrRefreshNotFound
	}

	now := r.now().UTC()
	if err := current.CheckRotatable(presentedHash, now); err != nil {
		return session.RefreshToken{}, err
	}

	replacedBy := next.ID
	current.RevokedAt = &now
	current.ReplacedBy = &replacedBy
	r.items[oldID] = current

	next.UserID = current.UserID
	r.items[next.ID] = next

	return current, nil
}

func (r *RefreshTokensRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[id]
	if !ok || t.RevokedAt != nil {
		return nil
	}
	now := r.now().UTC()
	t.RevokedAt = &now
	r.items[id] = t
	return nil
}

func (r *RefreshTokensRepo) RevokeUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for id, t := range r.items {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			r.items[id] = t
		}
	}
	return nil
}

package actorctx

import (
	"context"

	"github.com/geocoder89/useradmin/internal/auth"
)

type ctxKey struct{}

func WithSession(ctx context.Context, s *auth.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session attached by the session middleware, if any.
func SessionFrom(ctx context.Context) (*auth.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*auth.Session)

	return s, ok && s != nil && s.UserID != ""
}

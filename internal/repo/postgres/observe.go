package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Observer times a logical store op. observability.Prom satisfies it.
type Observer interface {
	ObserveDB(op string, fn func() error) error
}

type noopObserver struct{}

func (noopObserver) ObserveDB(_ string, fn func() error) error { return fn() }

func observerOrNoop(o Observer) Observer {
	if o == nil {
		return noopObserver{}
	}
	return o
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// a malformed uuid can never match a row
func isInvalidText(err error) bool {
	return pgCode(err) == "22P02"
}

package observability

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgErrorClasses names the SQLSTATEs the user and refresh token stores can
// actually hit. Anything else is reported as "pg_<code>".
var pgErrorClasses = map[string]string{
	"23505": "unique_violation",      // users.email
	"23503": "foreign_key_violation", // refresh_tokens.user_id
	"23514": "check_violation",       // users.role
	"22P02": "invalid_text",          // malformed uuid
	"40001": "serialization_failure",
	"40P01": "deadlock",
	"57014": "query_canceled",
}

// ObserveDB times fn under a logical op name and classifies failures.
// Not-found lookups are an expected outcome and are not counted as errors.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	if p == nil {
		return fn()
	}

	start := time.Now()
	err := fn()

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		status = "not_found"
	default:
		status = "error"
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}

	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if class, ok := pgErrorClasses[pgErr.Code]; ok {
			return class
		}
		return "pg_" + pgErr.Code
	}

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "no_rows"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case pgconn.Timeout(err):
		return "timeout"
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return "connection"
	}
	return "unknown"
}

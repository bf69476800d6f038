package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when an insert loses the allocate-then-insert race:
// the UNIQUE constraint on short_id rejected the row. Callers re-allocate and
// retry.
var ErrConflict = errors.New("store: short_id conflict")

const uniqueViolationCode = "23505"

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return ErrConflict
	}
	return err
}

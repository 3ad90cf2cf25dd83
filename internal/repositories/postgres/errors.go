package postgres

import (
	"context"
	"database/sql"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Arpitray/commerce/internal/repositories"
)

// wrapError maps driver failures onto repository error categories. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	repoErr := &repositories.Error{Op: op, Err: err}
	var pgErr *pgconn.PgError
	var netErr net.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		repoErr.NotFound = true
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			repoErr.Conflict = true
		case "57P01", "57P02", "57P03", "53300", "08000", "08003", "08006", "08001", "08004":
			repoErr.Unavailable = true
		}
		// Schema mismatches surface as 42xxx; the caller treats them like any other outage.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "42" {
			repoErr.Unavailable = true
		}
	case errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr), pgconn.SafeToRetry(err):
		repoErr.Unavailable = true
	}
	return repoErr
}

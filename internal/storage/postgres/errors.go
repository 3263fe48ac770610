package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

const uniqueViolation = "23505"

// storageError wraps err as a catalog.StorageError. Connection exceptions (class 08), operator
// shutdowns (57P0x) and anything that never reached the server are unrecoverable; statement level
// failures such as constraint or data errors are not.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &catalog.StorageError{
			Op:            op,
			Err:           err,
			Unrecoverable: strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P"),
		}
	}
	return &catalog.StorageError{Op: op, Err: err, Unrecoverable: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

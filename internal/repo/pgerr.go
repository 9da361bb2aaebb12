package repo

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = pq.ErrorCode("23505")
	pqForeignKeyViolation = pq.ErrorCode("23503")
)

// pqErrorCode returns the SQLSTATE and constraint name of a PostgreSQL error.
func pqErrorCode(err error) (pq.ErrorCode, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr.Constraint
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pqErrorCode(err)
	return code == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	code, _ := pqErrorCode(err)
	return code == pqForeignKeyViolation
}

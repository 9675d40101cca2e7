package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation           = "23505"
	pqInvalidTextRepresentation = "22P02"
)

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// isUniqueViolation は一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	return isPQCode(err, pqUniqueViolation)
}

// isInvalidText はUUID列に不正な文字列を渡した場合などの入力形式エラーかどうかを返す。
func isInvalidText(err error) bool {
	return isPQCode(err, pqInvalidTextRepresentation)
}

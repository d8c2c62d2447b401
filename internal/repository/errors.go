package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// DuplicateError は一意制約違反の詳細を保持する。errors.Is(err, ErrDuplicate)が成立する。
type DuplicateError struct {
	Op         string
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, ErrDuplicate, e.Constraint)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// On は違反した制約が指定カラムのものかを判定する。
// 制約名はPostgreSQL既定の "<table>_<column>_key" を前提とする。
func (e *DuplicateError) On(column string) bool {
	return strings.Contains(e.Constraint, "_"+column+"_")
}

// IsDuplicateOn はerrが指定カラムの一意制約違反かを判定する。
func IsDuplicateOn(err error, column string) bool {
	var dupErr *DuplicateError
	return errors.As(err, &dupErr) && dupErr.On(column)
}

// wrapWriteError は書き込みエラーをラップする。
// 一意制約違反の場合はDuplicateErrorとして扱う。
func wrapWriteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &DuplicateError{Op: op, Constraint: pqErr.Constraint}
	}
	return fmt.Errorf("%s: %w", op, err)
}

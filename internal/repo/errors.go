package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert or update hit a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate recognizes unique violations from every supported driver.
// glebarez/sqlite and older pgx paths often surface plain-text errors.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// translate maps unique violations to ErrDuplicate and leaves other errors as-is.
func translate(err error) error {
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyExists      = errors.New("already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidPattern     = errors.New("invalid pattern")
	ErrInvalidInput       = errors.New("invalid input")
)

// SecurityError reports a sandbox query rejected by the SQL validator.
// Rule names the violated rule so callers can surface it verbatim.
type SecurityError struct {
	Rule   string
	Detail string
}

func (e *SecurityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("security: query rejected by rule %s", e.Rule)
	}
	return fmt.Sprintf("security: query rejected by rule %s: %s", e.Rule, e.Detail)
}

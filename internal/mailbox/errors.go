package mailbox

import (
	"errors"
	"fmt"
)

// LoginError indicates that the IMAP server answered LOGIN with NO or BAD.
// Transport failures are reported as plain wrapped errors instead.
type LoginError struct {
	Username string
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("IMAP login rejected for %s: %v", e.Username, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// IsLoginError reports whether err (or any error in its chain) is a
// LoginError.
func IsLoginError(err error) bool {
	var loginErr *LoginError
	return errors.As(err, &loginErr)
}

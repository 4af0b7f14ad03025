package relay

import (
	"errors"
	"fmt"

	"chtbtr/internal/domain"
)

// ErrIdentityNotFound is the cause of a UserMappingError when the chat
// directory has no unique profile for the user.
var ErrIdentityNotFound = errors.New("no chat profile for user")

// UserMappingError means the addressed user's chat identity or settings
// could not be established.
type UserMappingError struct {
	Username domain.Username
	Err      error
}

func (e *UserMappingError) Error() string {
	return fmt.Sprintf("couldn't retrieve user information for %s: %v", e.Username, e.Err)
}

func (e *UserMappingError) Unwrap() error { return e.Err }

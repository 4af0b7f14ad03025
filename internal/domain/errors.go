package domain

import "fmt"

// RemoteLookupError reports a failed profile search on the chat backend.
// The current trigger is aborted; nothing is cached or persisted.
type RemoteLookupError struct {
	Query string
	Err   error
}

func (e *RemoteLookupError) Error() string {
	return fmt.Sprintf("profile search %q failed: %v", e.Query, e.Err)
}

func (e *RemoteLookupError) Unwrap() error { return e.Err }

// PersistenceError reports a read, parse or write failure in the user store.
type PersistenceError struct {
	Op       string
	Username Username
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Username == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Username, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

package storage

import (
	"errors"
	"time"

	"chtbtr/internal/domain"
)

var (
	ErrClosed = errors.New("storage closed")
	// ErrInvalidUsername is returned for usernames that cannot name a
	// storage namespace (empty, path separators, dot entries).
	ErrInvalidUsername = errors.New("invalid username")
)

// Config configures storage.
//
// Driver values:
//   - "file": Path is the data directory (<path>/<username>/...)
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a pgx connection string
//
// An empty Driver means "file".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// DeliveryRecord is one line of the delivery audit.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At        time.Time        `json:"at"`
	Trigger   string           `json:"trigger"`
	Username  domain.Username  `json:"username"`
	ProfileID domain.ProfileID `json:"profile_id"`
	Outcome   string           `json:"outcome"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	TookMS    int64            `json:"took_ms"`
}

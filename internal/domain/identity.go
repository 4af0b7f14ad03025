package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Username is a review-system account name. It is case-sensitive and used
// verbatim as the cache key and the storage namespace.
type Username string

func (u Username) String() string { return string(u) }

// ProjectName names a review project (repository).
type ProjectName string

func (p ProjectName) String() string { return string(p) }

// TopicName names a review topic.
type TopicName string

const profilePrefix = "PROFILE,"

// ErrInvalidProfileID is wrapped by ParseProfileID failures.
var ErrInvalidProfileID = errors.New("invalid profile id")

// ProfileID identifies an account on the chat backend.
// Its canonical text form is "PROFILE,<n>".
type ProfileID uint32

func (p ProfileID) String() string {
	return profilePrefix + strconv.FormatUint(uint64(p), 10)
}

// ParseProfileID accepts the canonical "PROFILE,<n>" form only.
func ParseProfileID(s string) (ProfileID, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, profilePrefix) {
		return 0, fmt.Errorf("%w: %q: missing %q prefix", ErrInvalidProfileID, s, profilePrefix)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, profilePrefix), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidProfileID, s, err)
	}
	return ProfileID(n), nil
}

func (p ProfileID) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *ProfileID) UnmarshalText(b []byte) error {
	id, err := ParseProfileID(string(b))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// ProfileCandidate is one hit of a chat directory search.
type ProfileCandidate struct {
	ID          ProfileID
	DisplayName string
}

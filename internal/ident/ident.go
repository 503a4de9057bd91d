// Package ident holds the TS6 identifiers used across the network: server
// IDs (SIDs), user IDs (UIDs), and the allocator we use to mint UIDs for our
// own users.
package ident

import (
	"regexp"

	"github.com/pkg/errors"
)

// ErrInvalidServerID is returned when a string is not a valid SID.
var ErrInvalidServerID = errors.New("invalid server id")

// ErrInvalidUserID is returned when a string is not a valid UID.
var ErrInvalidUserID = errors.New("invalid user id")

// SID format: [0-9][0-9A-Z]{2}
var sidRE = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)

const (
	serverIDLength = 3
	suffixLength   = 6
	userIDLength   = serverIDLength + suffixLength
)

// ServerID identifies one server in the network. It is 3 characters long and
// must be unique in the network.
//
// The zero value is not a valid ServerID. Construct one with ParseServerID.
type ServerID struct {
	id string
}

// ParseServerID validates s and returns it as a ServerID.
func ParseServerID(s string) (ServerID, error) {
	if !sidRE.MatchString(s) {
		return ServerID{}, errors.Wrapf(ErrInvalidServerID, "%q", s)
	}
	return ServerID{id: s}, nil
}

func (s ServerID) String() string {
	return s.id
}

// IsZero reports whether s was never set.
func (s ServerID) IsZero() bool {
	return s.id == ""
}

// UserID identifies one user in the network. It is the SID of the server that
// introduced the user followed by a 6 character suffix.
type UserID struct {
	id string
}

// ParseUserID validates s and returns it as a UserID.
//
// We check only the length and the embedded SID. The suffix is whatever the
// introducing server chose.
func ParseUserID(s string) (UserID, error) {
	if len(s) != userIDLength {
		return UserID{}, errors.Wrapf(ErrInvalidUserID, "%q: bad length", s)
	}

	if _, err := ParseServerID(s[:serverIDLength]); err != nil {
		return UserID{}, errors.Wrapf(ErrInvalidUserID, "%q: bad server id", s)
	}

	return UserID{id: s}, nil
}

// NewUserID combines a SID with a suffix from an Allocator.
func NewUserID(sid ServerID, suffix string) (UserID, error) {
	if sid.IsZero() {
		return UserID{}, errors.Wrap(ErrInvalidUserID, "no server id")
	}
	if len(suffix) != suffixLength {
		return UserID{}, errors.Wrapf(ErrInvalidUserID, "suffix %q", suffix)
	}
	return UserID{id: sid.id + suffix}, nil
}

func (u UserID) String() string {
	return u.id
}

// IsZero reports whether u was never set.
func (u UserID) IsZero() bool {
	return u.id == ""
}

// ServerID returns the SID of the server that introduced the user.
func (u UserID) ServerID() ServerID {
	if u.IsZero() {
		return ServerID{}
	}
	return ServerID{id: u.id[:serverIDLength]}
}

// Suffix returns the server-local part of the UID.
func (u UserID) Suffix() string {
	if u.IsZero() {
		return ""
	}
	return u.id[serverIDLength:]
}

// Package state holds the records shared by every connection: users, channels,
// and the registries that index them.
package state

import (
	"fmt"

	"github.com/horgh/relayd/internal/ident"
	"github.com/pkg/errors"
)

// ErrNotIdentified means a User was snapshotted before it had a UID.
var ErrNotIdentified = errors.New("user is not fully identified")

// User is the user record a session builds while a client registers.
//
// Empty strings mean the field was not given yet.
type User struct {
	Nickname string
	Username string
	Realname string

	// Identified is set once we assign a UID.
	Identified bool

	HopCount  int
	ID        ident.UserID
	Modes     string
	Timestamp int64
	Hostname  string
	IP        string
}

// Populated reports whether NICK and USER both completed.
func (u *User) Populated() bool {
	return u.Nickname != "" && u.Username != "" && u.Realname != ""
}

// FullyIdentified reports whether the user is populated and has a UID.
func (u *User) FullyIdentified() bool {
	return u.Populated() && u.Identified && !u.ID.IsZero()
}

// Snapshot copies a fully identified user into a RegisteredUser.
func (u *User) Snapshot() (RegisteredUser, error) {
	if !u.FullyIdentified() {
		return RegisteredUser{}, ErrNotIdentified
	}

	return RegisteredUser{
		Nickname:  u.Nickname,
		Username:  u.Username,
		Realname:  u.Realname,
		ID:        u.ID,
		HopCount:  u.HopCount,
		Modes:     u.Modes,
		Timestamp: u.Timestamp,
		Hostname:  u.Hostname,
		IP:        u.IP,
	}, nil
}

// RegisteredUser is an immutable view of a user somewhere on the network.
// Values are passed around by copy.
type RegisteredUser struct {
	Nickname  string
	Username  string
	Realname  string
	ID        ident.UserID
	HopCount  int
	Modes     string
	Timestamp int64
	Hostname  string
	IP        string
}

func (r RegisteredUser) String() string {
	return fmt.Sprintf("%s: %s", r.ID, r.Hostmask())
}

// Hostmask renders nick!~user@host.
func (r RegisteredUser) Hostmask() string {
	host := r.Hostname
	if host == "" {
		host = r.IP
	}
	return fmt.Sprintf("%s!~%s@%s", r.Nickname, r.Username, host)
}

// Less orders users by nickname, then username, realname, and UID. We use it
// only to iterate in a stable order.
func (r RegisteredUser) Less(o RegisteredUser) bool {
	if r.Nickname != o.Nickname {
		return r.Nickname < o.Nickname
	}
	if r.Username != o.Username {
		return r.Username < o.Username
	}
	if r.Realname != o.Realname {
		return r.Realname < o.Realname
	}
	return r.ID.String() < o.ID.String()
}

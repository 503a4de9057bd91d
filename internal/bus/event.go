// Package bus broadcasts events between connections.
//
// Every connection subscribes and filters what it receives. Publishing never
// blocks: a subscriber that falls behind loses its oldest events and is told
// how many.
package bus

import (
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/state"
)

// Event is one of PrivateMessage, ChannelJoin, or NetworkJoin.
type Event interface {
	// Kind names the event for logs and metrics.
	Kind() string

	isEvent()
}

// TargetKind says how a PrivateMessage is addressed.
type TargetKind int

const (
	// ToUsername addresses a user by username.
	ToUsername TargetKind = iota

	// ToUserID addresses a user by UID.
	ToUserID

	// ToChannel addresses every member of a channel.
	ToChannel
)

// Target is the receiver of a PrivateMessage. Only the field matching Kind is
// set.
type Target struct {
	Kind     TargetKind
	Username string
	UserID   ident.UserID
	Channel  string
}

// UsernameTarget addresses a user by username.
func UsernameTarget(username string) Target {
	return Target{Kind: ToUsername, Username: username}
}

// UserIDTarget addresses a user by UID.
func UserIDTarget(id ident.UserID) Target {
	return Target{Kind: ToUserID, UserID: id}
}

// ChannelTarget addresses a channel.
func ChannelTarget(name string) Target {
	return Target{Kind: ToChannel, Channel: name}
}

func (t Target) String() string {
	switch t.Kind {
	case ToUserID:
		return t.UserID.String()
	case ToChannel:
		return t.Channel
	default:
		return t.Username
	}
}

// PrivateMessage is a PRIVMSG to a user or channel.
type PrivateMessage struct {
	Sender state.RegisteredUser
	Target Target
	Text   string
}

// ChannelJoin is published once per channel a user joins. Channel is the
// channel as it was right after the join.
type ChannelJoin struct {
	Sender  state.RegisteredUser
	Channel state.Channel
}

// NetworkJoin announces a user that completed registration somewhere. Origin
// is the server that told us about the user.
type NetworkJoin struct {
	User   state.RegisteredUser
	Origin ident.ServerID
}

// Kind implements Event.
func (PrivateMessage) Kind() string { return "private_message" }

// Kind implements Event.
func (ChannelJoin) Kind() string { return "channel_join" }

// Kind implements Event.
func (NetworkJoin) Kind() string { return "network_join" }

func (PrivateMessage) isEvent() {}
func (ChannelJoin) isEvent()    {}
func (NetworkJoin) isEvent()    {}

package command

import (
	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/state"
)

// Action is something a handler asks the session to do.
type Action interface {
	isAction()
}

// SendText writes the message to this connection.
type SendText struct {
	Message irc.Message
}

// JoinChannels reports channels the user was just added to. The session
// publishes a ChannelJoin for each.
type JoinChannels struct {
	Channels []state.Channel
}

// SendMessage publishes the event on the bus.
type SendMessage struct {
	Event bus.Event
}

// ErrorAuthenticateFirst means the command needs a registered user.
type ErrorAuthenticateFirst struct{}

// UpgradeToServerLink switches the connection to the server link role.
type UpgradeToServerLink struct{}

// DoNothing is a successful command with no visible effect.
type DoNothing struct{}

func (SendText) isAction()               {}
func (JoinChannels) isAction()           {}
func (SendMessage) isAction()            {}
func (ErrorAuthenticateFirst) isAction() {}
func (UpgradeToServerLink) isAction()    {}
func (DoNothing) isAction()              {}

func nothing() []Action {
	return []Action{DoNothing{}}
}

func send(m irc.Message) []Action {
	return []Action{SendText{Message: m}}
}

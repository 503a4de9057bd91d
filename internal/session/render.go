package session

import (
	"strings"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
)

// renderForClient writes the events this user should see.
func (s *Session) renderForClient(e bus.Event) {
	switch e := e.(type) {
	case bus.PrivateMessage:
		s.renderPrivateMessage(e)
	case bus.ChannelJoin:
		s.renderChannelJoin(e)
	case bus.NetworkJoin:
	}
}

func (s *Session) renderPrivateMessage(e bus.PrivateMessage) {
	me := s.user

	if s.addressedToMe(e.Target) {
		s.maybeQueueMessage(irc.Message{
			Prefix:  e.Sender.Hostmask(),
			Command: "PRIVMSG",
			Params:  []string{me.Username, e.Text},
		})
		return
	}

	if e.Target.Kind != bus.ToChannel || e.Sender.ID == me.ID {
		return
	}

	if !s.services.Registries.Channels.IsMember(e.Target.Channel, me.ID) {
		return
	}

	s.maybeQueueMessage(irc.Message{
		Prefix:  e.Sender.Hostmask(),
		Command: "PRIVMSG",
		Params:  []string{e.Target.Channel, e.Text},
	})
}

func (s *Session) addressedToMe(t bus.Target) bool {
	switch t.Kind {
	case bus.ToUserID:
		return t.UserID == s.user.ID
	case bus.ToUsername:
		return strings.EqualFold(t.Username, s.user.Username)
	}
	return false
}

func (s *Session) renderChannelJoin(e bus.ChannelJoin) {
	if e.Sender.ID != s.user.ID && !e.Channel.HasMember(s.user.ID) {
		return
	}

	name := e.Channel.Name

	s.maybeQueueMessage(irc.Message{
		Prefix:  e.Sender.Hostmask(),
		Command: "JOIN",
		Params:  []string{name},
	})

	// 331 RPL_NOTOPIC
	s.messageFromServer("331", name, "No topic is set")

	// 353 RPL_NAMREPLY
	s.messageFromServer("353", "=", name, strings.Join(e.Channel.Nicks(), " "))

	// 366 RPL_ENDOFNAMES
	s.messageFromServer("366", name, "End of /NAMES list")
}

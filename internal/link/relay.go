package link

import (
	"strconv"
	"strings"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/state"
)

// PING <origin>
func (l *Link) pingCommand(c command.Command) ([]command.Action, error) {
	if len(c.Args) == 0 {
		l.logger.Warn().Msg("PING without origin")
		return nil, nil
	}

	sid := l.config.ServerID.String()

	// :<our SID> PONG <our SID> <origin>
	return sendText(irc.Message{
		Prefix:  sid,
		Command: "PONG",
		Params:  []string{sid, c.Args[0]},
	}), nil
}

// PONG needs no reply.
func (l *Link) pongCommand(c command.Command) ([]command.Action, error) {
	l.logger.Debug().Strs("args", c.Args).Msg("got PONG")
	return nil, nil
}

// UID introduces a user on the server that is the source.
//
// Parameters: <nick> <hopcount> <nick TS> <umodes> <username> <hostname> <IP>
// <UID> :<real name>
// :8ZZ UID will 1 1475024621 +i will blashyrkh. 0 8ZZAAAAAB :will
func (l *Link) uidCommand(c command.Command) ([]command.Action, error) {
	if !l.Ready() {
		l.logger.Warn().Msg("ignoring UID before SVINFO")
		return nil, nil
	}

	if len(c.Args) < 9 {
		l.logger.Warn().Strs("args", c.Args).Msg("UID: not enough parameters")
		return nil, nil
	}

	id, err := ident.ParseUserID(c.Args[7])
	if err != nil {
		l.logger.Warn().Err(err).Msg("UID: dropping user")
		return nil, nil
	}

	hopCount, err := strconv.Atoi(c.Args[1])
	if err != nil {
		l.logger.Warn().Err(err).Msg("UID: bad hopcount")
		return nil, nil
	}

	ts, err := strconv.ParseInt(c.Args[2], 10, 64)
	if err != nil {
		l.logger.Warn().Err(err).Msg("UID: bad nick TS")
		return nil, nil
	}

	u := state.RegisteredUser{
		Nickname:  c.Args[0],
		HopCount:  hopCount,
		Timestamp: ts,
		Modes:     c.Args[3],
		Username:  strings.TrimPrefix(c.Args[4], "~"),
		Hostname:  c.Args[5],
		IP:        c.Args[6],
		ID:        id,
		Realname:  c.Args[8],
	}

	l.registries.Foreign.Insert(id, u)

	l.logger.Debug().Str("user", u.String()).Msg("server introduced user")

	return []command.Action{command.SendMessage{Event: bus.NetworkJoin{
		User:   u,
		Origin: l.State.ServerID,
	}}}, nil
}

// :<sender UID> PRIVMSG <target UID|#channel> :<text>
func (l *Link) privmsgCommand(c command.Command) ([]command.Action, error) {
	if !l.Ready() {
		l.logger.Warn().Msg("ignoring PRIVMSG before SVINFO")
		return nil, nil
	}

	if len(c.Args) < 2 {
		l.logger.Warn().Strs("args", c.Args).Msg("PRIVMSG: not enough parameters")
		return nil, nil
	}

	senderID, err := ident.ParseUserID(c.Source)
	if err != nil {
		l.logger.Warn().Str("source", c.Source).Msg("PRIVMSG: source is not a user")
		return nil, nil
	}

	sender, exists := l.registries.Foreign.Get(senderID)
	if !exists {
		l.logger.Warn().Str("source", c.Source).Msg("PRIVMSG: unknown user")
		return nil, nil
	}

	var target bus.Target
	if strings.HasPrefix(c.Args[0], "#") {
		target = bus.ChannelTarget(c.Args[0])
	} else {
		targetID, err := ident.ParseUserID(c.Args[0])
		if err != nil {
			l.logger.Warn().Str("target", c.Args[0]).Msg("PRIVMSG: bad target")
			return nil, nil
		}
		target = bus.UserIDTarget(targetID)
	}

	return []command.Action{command.SendMessage{Event: bus.PrivateMessage{
		Sender: sender,
		Target: target,
		Text:   c.Args[1],
	}}}, nil
}

// Render turns a bus event into lines for the peer. Events the peer already
// knows about or doesn't need render to nothing.
func (l *Link) Render(e bus.Event) []irc.Message {
	if !l.Ready() {
		if nj, ok := e.(bus.NetworkJoin); ok {
			l.early = append(l.early, nj)
		}
		return nil
	}

	switch e := e.(type) {
	case bus.NetworkJoin:
		if m, ok := l.introduce(e); ok {
			return []irc.Message{m}
		}
		return nil

	case bus.PrivateMessage:
		if l.fromPeer(e.Sender) {
			return nil
		}

		target, ok := l.peerTarget(e.Target)
		if !ok {
			return nil
		}

		return []irc.Message{{
			Prefix:  e.Sender.ID.String(),
			Command: "PRIVMSG",
			Params:  []string{target.String(), e.Text},
		}}
	}

	return nil
}

// introduce decides whether a NetworkJoin becomes a UID line. A user we
// already sent in the burst is skipped once.
func (l *Link) introduce(e bus.NetworkJoin) (irc.Message, bool) {
	if e.Origin == l.State.ServerID || l.fromPeer(e.User) {
		return irc.Message{}, false
	}
	if _, sent := l.bursted[e.User.ID]; sent {
		delete(l.bursted, e.User.ID)
		return irc.Message{}, false
	}
	return uidMessage(e.User), true
}

func (l *Link) fromPeer(u state.RegisteredUser) bool {
	return u.ID.ServerID() == l.State.ServerID
}

// peerTarget finds the UID of a message receiver that lives on the peer.
func (l *Link) peerTarget(t bus.Target) (ident.UserID, bool) {
	switch t.Kind {
	case bus.ToUserID:
		if t.UserID.ServerID() == l.State.ServerID {
			return t.UserID, true
		}
	case bus.ToUsername:
		u, exists := l.registries.FindForeignByUsername(t.Username)
		if exists && l.fromPeer(u) {
			return u.ID, true
		}
	}
	return ident.UserID{}, false
}

// uidMessage introduces a user. The source is the user's own server.
//
// :<SID> UID <nick> <hopcount> <nick TS> <umodes> <username> <hostname> <IP>
// <UID> :<real name>
func uidMessage(u state.RegisteredUser) irc.Message {
	modes := u.Modes
	if modes == "" {
		modes = "+"
	}

	ip := u.IP
	if ip == "" {
		ip = "0"
	}

	host := u.Hostname
	if host == "" {
		host = ip
	}

	// An IPv6 address like ::1 can't start a middle parameter.
	if strings.HasPrefix(ip, ":") {
		ip = "0" + ip
	}
	if strings.HasPrefix(host, ":") {
		host = "0" + host
	}

	return irc.Message{
		Prefix:  u.ID.ServerID().String(),
		Command: "UID",
		Params: []string{
			u.Nickname,
			// Hop count increases for them.
			strconv.Itoa(u.HopCount + 1),
			strconv.FormatInt(u.Timestamp, 10),
			modes,
			u.Username,
			host,
			ip,
			u.ID.String(),
			u.Realname,
		},
	}
}

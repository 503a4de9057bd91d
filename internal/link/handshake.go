package link

import (
	"strconv"
	"strings"
	"time"

	"github.com/horgh/irc"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/metrics"
	"github.com/horgh/relayd/internal/state"
	"github.com/pkg/errors"
)

// CAPAB <space separated list>
//
// We record what the peer supports but don't act on any of it.
func (l *Link) capabCommand(c command.Command) ([]command.Action, error) {
	for _, arg := range c.Args {
		for _, capab := range strings.Fields(arg) {
			l.State.Capabilities = append(l.State.Capabilities,
				strings.ToUpper(capab))
		}
	}

	l.logger.Debug().Strs("capabs", l.State.Capabilities).Msg("got CAPAB")
	return nil, nil
}

// SERVER <name> <hopcount> <SID> <flags> :<description>
func (l *Link) serverCommand(c command.Command) ([]command.Action, error) {
	if len(c.Args) < 5 {
		return nil, errors.New("SERVER: not enough parameters")
	}

	if l.State.Identified {
		return nil, errors.New("double SERVER")
	}

	hopCount, err := strconv.Atoi(c.Args[1])
	if err != nil {
		return nil, errors.Wrap(err, "SERVER: bad hopcount")
	}

	sid, err := ident.ParseServerID(c.Args[2])
	if err != nil {
		return nil, errors.Wrap(err, "SERVER")
	}

	if sid == l.config.ServerID {
		return nil, errors.Errorf("SERVER: peer is using our SID %s", sid)
	}

	l.State.Name = c.Args[0]
	l.State.HopCount = hopCount
	l.State.ServerID = sid
	l.State.Description = c.Args[4]
	l.State.Identified = true

	l.logger.Info().Str("server", l.State.Name).Str("sid", sid.String()).
		Msg("server identified")

	// :<our name> SERVER <our name> 1 <our SID> + :<our description>
	return sendText(irc.Message{
		Prefix:  l.config.Hostname,
		Command: "SERVER",
		Params: []string{
			l.config.Hostname,
			"1",
			l.config.ServerID.String(),
			"+",
			l.config.ServerInfo,
		},
	}), nil
}

// SVINFO <TS version> <min TS version> 0 <current time>
func (l *Link) svinfoCommand(c command.Command) ([]command.Action, error) {
	if !l.State.Identified {
		return nil, errors.New("SERVER first")
	}

	if l.State.VersionAgreed {
		l.logger.Warn().Msg("ignoring repeated SVINFO")
		return nil, nil
	}

	if len(c.Args) < 4 {
		return nil, errors.New("SVINFO: not enough parameters")
	}

	if c.Args[0] != TSVersion || c.Args[1] != TSVersion {
		metrics.RecordHandshake("protocol_mismatch")
		return nil, errors.Wrapf(ErrProtocolMismatch, "peer offered %s/%s",
			c.Args[0], c.Args[1])
	}

	now := l.now()

	theirEpoch, err := strconv.ParseInt(c.Args[3], 10, 64)
	if err != nil {
		l.logger.Warn().Str("time", c.Args[3]).Msg("SVINFO: malformed time")
	} else {
		skew := now.Sub(time.Unix(theirEpoch, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > MaxClockSkew {
			l.logger.Warn().Dur("skew", skew).Msg("clock skew with server")
		}
	}

	l.State.VersionAgreed = true
	metrics.RecordHandshake("ok")

	l.logger.Info().Str("server", l.String()).Msg("link established")

	// SVINFO <TS version> <min TS version> 0 :<current time>
	messages := []irc.Message{{
		Command: "SVINFO",
		Params: []string{
			TSVersion, TSVersion, "0", strconv.FormatInt(now.Unix(), 10),
		},
	}}

	messages = append(messages, l.burst()...)
	messages = append(messages, l.flushEarly()...)
	return sendText(messages...), nil
}

// burst introduces every user on this server to the peer.
func (l *Link) burst() []irc.Message {
	users := l.registries.Local.Snapshot()
	state.SortUsers(users)

	messages := make([]irc.Message, 0, len(users))
	for _, u := range users {
		l.bursted[u.ID] = struct{}{}
		messages = append(messages, uidMessage(u))
	}
	return messages
}

// flushEarly introduces users whose NetworkJoin arrived before SVINFO but who
// were not yet in Local Users for the burst.
func (l *Link) flushEarly() []irc.Message {
	var messages []irc.Message
	for _, e := range l.early {
		if m, ok := l.introduce(e); ok {
			messages = append(messages, m)
		}
	}
	l.early = nil
	return messages
}

// ERROR :<reason>
func (l *Link) errorCommand(c command.Command) ([]command.Action, error) {
	reason := ""
	if len(c.Args) > 0 {
		reason = c.Args[0]
	}
	return nil, errors.Errorf("server sent ERROR: %s", reason)
}
